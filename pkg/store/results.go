package store

import (
	"github.com/olimci/plugindb/pkg/publish"
	"github.com/olimci/plugindb/pkg/resolve"
)

type PublishResult struct {
	Target string
	Plan   *resolve.Plan
	*publish.Result
}

type UpdateResult struct {
	Source string
	Plan   *resolve.Plan
	*publish.ApplyResult
	// Obsolete files left in place because uninstalling was not requested.
	Obsolete []string
	// Skipped explicit files that needed no action.
	Skipped []string
}

type ValidateResult struct {
	Files    int
	Obsolete int
	Edges    int
	Stale    []StaleEdge
}

// StaleEdge is a dependency recorded against an older version of its target,
// or against a target that has since been removed.
type StaleEdge struct {
	File       string
	Dependency string
	Recorded   string
	Current    string
	Removed    bool
}
