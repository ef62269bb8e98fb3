package lock

// Lock records what the last publish and update runs against an
// installation did. It is informational; the registry stays the source of
// truth.
type Lock struct {
	Publish *Publish `json:"publish,omitempty"` // last successful publish
	Update  *Update  `json:"update,omitempty"`  // last successful update
}

type Publish struct {
	Target    string   `json:"target"`    // where files went, empty for local-only runs
	Timestamp string   `json:"timestamp"` // yyyyMMddHHmmss, UTC
	Uploaded  []string `json:"uploaded,omitempty"`
	Removed   []string `json:"removed,omitempty"`
}

type Update struct {
	Source      string   `json:"source"`
	Timestamp   string   `json:"timestamp"`
	Installed   []string `json:"installed,omitempty"`
	Updated     []string `json:"updated,omitempty"`
	Uninstalled []string `json:"uninstalled,omitempty"`
}
