// Package resolve turns a request ("upload these files") into a plan of
// per-file actions, following dependency edges until nothing new is added.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/olimci/plugindb/pkg/deps"
	"github.com/olimci/plugindb/pkg/graph"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/scan"
	"github.com/olimci/plugindb/pkg/status"
)

var (
	ErrImplied         = errors.New("dependency closure needs files that were not requested")
	ErrUnknownFile     = errors.New("unknown file")
	ErrObsoleteDepends = errors.New("depends on an obsolete file")
)

// ImpliedUploadsError lists the files the closure added on top of the
// explicit request when automatic inclusion was not enabled.
type ImpliedUploadsError struct {
	Action    status.Action
	Requested []string
	Implied   []string
}

func (e *ImpliedUploadsError) Error() string {
	return fmt.Sprintf("%s: %s of %s also needs %s (use --auto to include them)",
		ErrImplied, e.Action, strings.Join(e.Requested, ", "), strings.Join(e.Implied, ", "))
}

func (e *ImpliedUploadsError) Unwrap() error { return ErrImplied }

type Request struct {
	Action status.Action
	Files  []string
	Auto   bool
	Strict bool
}

// Item is one file's assigned action.
type Item struct {
	Name    string
	Status  status.Status
	Action  status.Action
	Implied bool
	Entry   scan.Entry
}

type Plan struct {
	Action   status.Action
	Items    []Item // dependencies before dependents
	Rejected []*status.InvalidActionError
}

func (p *Plan) Empty() bool {
	for _, it := range p.Items {
		if it.Action != status.NoOp {
			return false
		}
	}
	return true
}

// ActionFor returns the action assigned to name, no-op when the plan does
// not mention it.
func (p *Plan) ActionFor(name string) status.Action {
	for _, it := range p.Items {
		if it.Name == name {
			return it.Action
		}
	}
	return status.NoOp
}

func (p *Plan) Actions() map[string]status.Action {
	out := make(map[string]status.Action, len(p.Items))
	for _, it := range p.Items {
		out[it.Name] = it.Action
	}
	return out
}

func (p *Plan) Implied() []string {
	var out []string
	for _, it := range p.Items {
		if it.Implied {
			out = append(out, it.Name)
		}
	}
	sort.Strings(out)
	return out
}

// DepsFunc returns the names a file depends on.
type DepsFunc func(name string) ([]string, error)

// RegistryDeps follows the edges recorded in reg.
func RegistryDeps(reg *registry.Registry) DepsFunc {
	return func(name string) ([]string, error) {
		rec, ok := reg.Get(name)
		if !ok {
			return nil, nil
		}
		out := make([]string, 0, len(rec.Dependencies))
		for _, d := range rec.Dependencies {
			out = append(out, d.Filename)
		}
		return out, nil
	}
}

// ExtractorDeps asks ex first and falls back to the recorded edges for files
// it has nothing to say about.
func ExtractorDeps(reg *registry.Registry, ex deps.Extractor) DepsFunc {
	recorded := RegistryDeps(reg)
	return func(name string) ([]string, error) {
		if ex == nil {
			return recorded(name)
		}
		out, err := ex.Dependencies(name)
		if errors.Is(err, deps.ErrNotDeclared) {
			return recorded(name)
		}
		return out, err
	}
}

type Resolver struct {
	Registry *registry.Registry
	Entries  map[string]scan.Entry
	// Deps supplies the dependencies of files being uploaded. Installs and
	// updates always follow the registry's edges.
	Deps   DepsFunc
	Logger *slog.Logger
}

func New(reg *registry.Registry, entries []scan.Entry, depsFn DepsFunc, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if depsFn == nil {
		depsFn = RegistryDeps(reg)
	}
	byName := make(map[string]scan.Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	return &Resolver{Registry: reg, Entries: byName, Deps: depsFn, Logger: logger}
}

// Candidates lists the files whose status calls for action when the caller
// names none: modified and new files for upload, stale ones for update,
// missing ones for install and obsolete ones still on disk for uninstall.
func (r *Resolver) Candidates(action status.Action) []string {
	want := map[status.Action][]status.Status{
		status.Upload:    {status.Modified, status.New},
		status.Update:    {status.Updateable},
		status.Install:   {status.NotInstalled},
		status.Uninstall: {status.Obsolete},
	}[action]

	var out []string
	for name, e := range r.Entries {
		if action == status.Uninstall && !e.Present {
			continue
		}
		for _, st := range want {
			if e.Status == st {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Resolve checks the explicit files against the action whitelist and
// expands the request to a fixed point over the dependency edges.
func (r *Resolver) Resolve(req Request) (*Plan, error) {
	plan := &Plan{Action: req.Action}
	items := make(map[string]*Item)
	edges := make(map[string][]string)

	var queue []string
	var requested []string

	for _, name := range uniqueSorted(req.Files) {
		entry, ok := r.Entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFile, name)
		}

		st := entry.Status
		if req.Action == status.Upload && st == status.NotFiji && entry.Present {
			st = status.New
		}
		action := explicitAction(req.Action, st)

		if err := status.Check(name, st, action); err != nil {
			if req.Strict {
				return nil, err
			}
			var invalid *status.InvalidActionError
			errors.As(err, &invalid)
			plan.Rejected = append(plan.Rejected, invalid)
			r.Logger.Warn("rejected action", "file", name, "status", st.String(), "action", action.String())
			continue
		}

		items[name] = &Item{Name: name, Status: st, Action: action, Entry: entry}
		requested = append(requested, name)
		queue = append(queue, name)
	}

	var reverse *graph.Graph
	if req.Action == status.Remove {
		reverse = r.Registry.Graph().Reverse()
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		next, err := r.neighbours(req.Action, name, reverse)
		if err != nil {
			return nil, err
		}
		edges[name] = next

		for _, dep := range next {
			if _, seen := items[dep]; seen {
				continue
			}
			item, err := r.implied(req.Action, name, dep)
			if err != nil {
				return nil, err
			}
			if item == nil {
				continue
			}
			items[dep] = item
			queue = append(queue, dep)
			r.Logger.Debug("implied action", "file", dep, "action", item.Action.String(), "via", name)
		}
	}

	order, err := orderItems(req.Action, items, edges)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		plan.Items = append(plan.Items, *items[name])
	}

	if implied := plan.Implied(); len(implied) > 0 && !req.Auto {
		return nil, &ImpliedUploadsError{Action: req.Action, Requested: requested, Implied: implied}
	}

	return plan, nil
}

// explicitAction lets one install or update request cover both kinds of
// client work: missing files are installed and stale ones updated.
func explicitAction(action status.Action, st status.Status) status.Action {
	if action != status.Install && action != status.Update {
		return action
	}
	switch st {
	case status.NotInstalled:
		return status.Install
	case status.Updateable:
		return status.Update
	default:
		return action
	}
}

// neighbours returns the files whose state the action on name depends on:
// dependencies for upload/install/update, dependents for remove.
func (r *Resolver) neighbours(action status.Action, name string, reverse *graph.Graph) ([]string, error) {
	switch action {
	case status.Upload:
		out, err := r.Deps(name)
		if err != nil {
			return nil, fmt.Errorf("dependencies of %s: %w", name, err)
		}
		return uniqueSorted(out), nil
	case status.Install, status.Update:
		out, err := RegistryDeps(r.Registry)(name)
		if err != nil {
			return nil, err
		}
		return uniqueSorted(out), nil
	case status.Remove:
		return reverse.Edges(name), nil
	default:
		return nil, nil
	}
}

// implied decides what happens to dep when from gets the action. A nil item
// means dep needs nothing.
func (r *Resolver) implied(action status.Action, from, dep string) (*Item, error) {
	if dep == from {
		return nil, nil
	}

	entry, ok := r.Entries[dep]
	if !ok {
		rec, tracked := r.Registry.Get(dep)
		if !tracked {
			return nil, fmt.Errorf("%w: %s (needed by %s)", ErrUnknownFile, dep, from)
		}
		entry = scan.Entry{Name: dep, Record: rec, Status: status.Derive(rec, "", false)}
	}

	st := entry.Status
	var next status.Action

	switch action {
	case status.Upload:
		switch st {
		case status.Modified, status.New, status.Updateable:
			next = status.Upload
		case status.NotFiji:
			if !entry.Present {
				return nil, fmt.Errorf("%w: %s (needed by %s)", ErrUnknownFile, dep, from)
			}
			st = status.New
			next = status.Upload
		case status.Obsolete:
			return nil, fmt.Errorf("%s %w %s", from, ErrObsoleteDepends, dep)
		case status.ObsoleteModified:
			return nil, &status.InvalidActionError{File: dep, Status: st, Action: status.Upload}
		default:
			return nil, nil
		}
	case status.Install, status.Update:
		switch st {
		case status.NotInstalled:
			next = status.Install
		case status.Updateable:
			next = status.Update
		default:
			return nil, nil
		}
	case status.Remove:
		rec, tracked := r.Registry.Get(dep)
		if !tracked || rec.IsObsolete() {
			return nil, nil
		}
		// Dependents are tombstoned whatever their local state.
		return &Item{Name: dep, Status: st, Action: status.Remove, Implied: true, Entry: entry}, nil
	default:
		return nil, nil
	}

	if err := status.Check(dep, st, next); err != nil {
		return nil, err
	}
	return &Item{Name: dep, Status: st, Action: next, Implied: true, Entry: entry}, nil
}

func orderItems(action status.Action, items map[string]*Item, edges map[string][]string) ([]string, error) {
	g := graph.New()
	for name := range items {
		g.AddNode(name)
	}
	for from, targets := range edges {
		for _, to := range targets {
			if _, ok := items[to]; !ok || to == from {
				continue
			}
			if action == status.Remove {
				// to depends on from
				g.AddEdge(to, from)
			} else {
				g.AddEdge(from, to)
			}
		}
	}
	return g.TopoOrder()
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
