// Package status derives a file's status from the registry and the local
// checksum, and holds the whitelist of actions each status permits.
package status

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olimci/plugindb/pkg/registry"
)

type Status int

const (
	NotInstalled Status = iota
	Installed
	Modified
	Updateable
	New
	Obsolete
	ObsoleteModified
	NotFiji
)

var statusNames = [...]string{
	NotInstalled:     "NOT_INSTALLED",
	Installed:        "INSTALLED",
	Modified:         "MODIFIED",
	Updateable:       "UPDATEABLE",
	New:              "NEW",
	Obsolete:         "OBSOLETE",
	ObsoleteModified: "OBSOLETE_MODIFIED",
	NotFiji:          "NOT_FIJI",
}

var statusLabels = [...]string{
	NotInstalled:     "Not installed",
	Installed:        "Up-to-date",
	Modified:         "Locally modified",
	Updateable:       "Update available",
	New:              "New file",
	Obsolete:         "Obsolete",
	ObsoleteModified: "Obsolete (modified)",
	NotFiji:          "Untracked",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Label is the human readable form used in listings.
func (s Status) Label() string {
	if s < 0 || int(s) >= len(statusLabels) {
		return s.String()
	}
	return statusLabels[s]
}

func ParseStatus(raw string) (Status, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	for i, name := range statusNames {
		if name == value {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", raw)
}

type Action int

const (
	NoOp Action = iota
	Upload
	Remove
	Update
	Install
	Uninstall
)

var actionNames = [...]string{
	NoOp:      "no-op",
	Upload:    "upload",
	Remove:    "remove",
	Update:    "update",
	Install:   "install",
	Uninstall: "uninstall",
}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

func ParseAction(raw string) (Action, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "noop" || value == "no_op" {
		value = "no-op"
	}
	for i, name := range actionNames {
		if name == value {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", raw)
}

// Publishes reports whether a changes the registry rather than only the
// local installation.
func (a Action) Publishes() bool {
	return a == Upload || a == Remove
}

var ErrInvalidAction = errors.New("invalid action")

// InvalidActionError names a file and the status/action pair the whitelist
// rejected.
type InvalidActionError struct {
	File   string
	Status Status
	Action Action
}

func (e *InvalidActionError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%s: %s is not allowed for status %s", ErrInvalidAction, e.Action, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s is not allowed for status %s", ErrInvalidAction, e.File, e.Action, e.Status)
}

func (e *InvalidActionError) Unwrap() error { return ErrInvalidAction }

var allowed = map[Status][]Action{
	NotInstalled:     {NoOp, Install},
	Installed:        {NoOp, Remove, Upload},
	Modified:         {NoOp, Upload},
	Updateable:       {NoOp, Update, Upload},
	New:              {NoOp, Upload},
	Obsolete:         {NoOp, Uninstall},
	ObsoleteModified: {NoOp},
	NotFiji:          {NoOp},
}

// Allowed returns the actions permitted for s.
func Allowed(s Status) []Action {
	return append([]Action(nil), allowed[s]...)
}

func Valid(s Status, a Action) bool {
	for _, candidate := range allowed[s] {
		if candidate == a {
			return true
		}
	}
	return false
}

// Check returns *InvalidActionError when a is not permitted for s.
func Check(file string, s Status, a Action) error {
	if Valid(s, a) {
		return nil
	}
	return &InvalidActionError{File: file, Status: s, Action: a}
}

// Derive computes the status of one file. rec is nil for untracked names;
// checksum is ignored when the file is not present.
func Derive(rec *registry.FileRecord, checksum string, present bool) Status {
	if rec == nil {
		return NotFiji
	}

	if rec.IsObsolete() {
		if !present || rec.HasChecksum(checksum) {
			return Obsolete
		}
		return ObsoleteModified
	}

	switch {
	case !present:
		return NotInstalled
	case rec.Current.Checksum == checksum:
		return Installed
	case rec.IsPrevious(checksum):
		return Updateable
	default:
		return Modified
	}
}
