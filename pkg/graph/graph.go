// Package graph holds the directed dependency graph between registry files
// and the algorithms run over it before anything is published.
package graph

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

var ErrCycle = errors.New("dependency cycle")

// CycleError reports one cycle found in the graph. Cycle lists the files in
// edge order; the last one depends on the first.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if e == nil || len(e.Cycle) == 0 {
		return ErrCycle.Error()
	}
	closed := append(append([]string(nil), e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(closed, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Graph is a directed graph over file names. An edge a -> b means a depends
// on b.
type Graph struct {
	out map[string]map[string]struct{}
}

func New() *Graph {
	return &Graph{out: make(map[string]map[string]struct{})}
}

func (g *Graph) AddNode(name string) {
	if _, ok := g.out[name]; !ok {
		g.out[name] = make(map[string]struct{})
	}
}

func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.out[from][to] = struct{}{}
}

func (g *Graph) HasNode(name string) bool {
	_, ok := g.out[name]
	return ok
}

// Nodes returns all node names in sorted order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.out))
	for name := range g.out {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	return nodes
}

// Edges returns the sorted direct dependencies of name.
func (g *Graph) Edges(name string) []string {
	targets := make([]string, 0, len(g.out[name]))
	for to := range g.out[name] {
		targets = append(targets, to)
	}
	sort.Strings(targets)
	return targets
}

// Reverse returns a graph with every edge flipped (dependents view).
func (g *Graph) Reverse() *Graph {
	r := New()
	for from, targets := range g.out {
		r.AddNode(from)
		for to := range targets {
			r.AddEdge(to, from)
		}
	}
	return r
}

const (
	white = iota
	gray
	black
)

// FindCycle returns one cycle, or nil when the graph is acyclic. Traversal
// visits nodes and edges in sorted order so the witness is stable.
func (g *Graph) FindCycle() []string {
	color := make(map[string]int, len(g.out))
	stack := make([]string, 0, 16)

	var cycle []string
	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, next := range g.Edges(name) {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range g.Nodes() {
		if color[name] != white {
			continue
		}
		if visit(name) {
			return cycle
		}
	}
	return nil
}

// Check returns a *CycleError when the graph has a cycle.
func (g *Graph) Check() error {
	if cycle := g.FindCycle(); cycle != nil {
		return &CycleError{Cycle: cycle}
	}
	return nil
}

// TopoOrder lists every node with dependencies before their dependents.
func (g *Graph) TopoOrder() ([]string, error) {
	if err := g.Check(); err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(g.out))
	order := make([]string, 0, len(g.out))

	var visit func(name string)
	visit = func(name string) {
		if done[name] {
			return
		}
		done[name] = true
		for _, next := range g.Edges(name) {
			visit(next)
		}
		order = append(order, name)
	}

	for _, name := range g.Nodes() {
		visit(name)
	}
	return order, nil
}

// Closure returns the sorted set of nodes reachable from start, excluding the
// start nodes themselves unless reachable through a cycle.
func (g *Graph) Closure(start ...string) []string {
	seen := make(map[string]struct{}, len(g.out))
	queue := make([]string, 0, len(start))
	for _, s := range start {
		queue = append(queue, g.Edges(s)...)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		queue = append(queue, g.Edges(name)...)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// WriteDot writes the graph in Graphviz dot format. Node labels drop the
// directory and extension to keep the rendering readable.
func (g *Graph) WriteDot(w io.Writer, title string) error {
	if title == "" {
		title = "dependencies"
	}
	if _, err := fmt.Fprintf(w, "digraph %q {\n\toverlap=false\n\tsplines=true\n\tsep=0.1\n\tnode [fontname=\"DejaVuSans\"]\n", title); err != nil {
		return err
	}

	for _, name := range g.Nodes() {
		if _, err := fmt.Fprintf(w, "\t%q [label=%q]\n", name, dotLabel(name)); err != nil {
			return err
		}
	}
	for _, from := range g.Nodes() {
		for _, to := range g.Edges(from) {
			if _, err := fmt.Fprintf(w, "\t%q -> %q\n", from, to); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprint(w, "}\n")
	return err
}

func dotLabel(name string) string {
	base := path.Base(name)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}
