package catalog

import (
	"github.com/aevon-lab/aevon-rollups/internal/model"
)

// JoinEdge is one traversed join step. Relationship is read in the direction
// of traversal, so walking a declared one_to_many backwards yields many_to_one.
type JoinEdge struct {
	From         string             `json:"from"`
	To           string             `json:"to"`
	Relationship model.Relationship `json:"relationship"`
}

// Multiplies reports whether walking this edge fans rows out. Only
// one_to_many does: a many_to_many join is modelled through its bridge cube,
// whose own one_to_many edges carry the fan-out.
func (e JoinEdge) Multiplies() bool {
	return e.Relationship == model.OneToMany
}

// JoinPath is the shortest join path between two cubes.
type JoinPath struct {
	Steps []JoinEdge

	// Multiplying holds the steps that fan rows out, in path order.
	Multiplying []JoinEdge
}

// Multiplied reports whether the target cube is reached through at least one
// fan-out edge.
func (p *JoinPath) Multiplied() bool {
	return p != nil && len(p.Multiplying) > 0
}

// joinGraph is the undirected cube graph plus the all-pairs path table,
// computed once per snapshot so lookups at match time are O(1).
type joinGraph struct {
	adj   map[string][]JoinEdge
	paths map[string]map[string]*JoinPath
}

type pathState struct {
	dist     int
	path     *JoinPath
	conflict bool
}

// buildJoinGraph adds every declared join in both directions. Declarations
// from both ends of the same pair must agree.
func buildJoinGraph(cubes []*model.Cube) (*joinGraph, []*model.ValidationError) {
	var errs []*model.ValidationError
	g := &joinGraph{
		adj:   make(map[string][]JoinEdge, len(cubes)),
		paths: make(map[string]map[string]*JoinPath, len(cubes)),
	}

	known := make(map[string]bool, len(cubes))
	for _, c := range cubes {
		known[c.Name] = true
	}

	type pair struct{ from, to string }
	declared := map[pair]model.Relationship{}
	add := func(e JoinEdge) {
		key := pair{e.From, e.To}
		if existing, ok := declared[key]; ok {
			if existing != e.Relationship {
				errs = append(errs, model.Invalidf(e.From, "", "conflicting join declarations to %q: %s vs %s", e.To, existing, e.Relationship))
			}
			return
		}
		declared[key] = e.Relationship
		g.adj[e.From] = append(g.adj[e.From], e)
	}

	for _, c := range cubes {
		for _, j := range c.Joins {
			if !known[j.To] {
				errs = append(errs, model.Invalidf(c.Name, "", "join references unknown cube %q", j.To))
				continue
			}
			if j.To == c.Name {
				errs = append(errs, model.Invalidf(c.Name, "", "cube cannot join itself"))
				continue
			}
			add(JoinEdge{From: c.Name, To: j.To, Relationship: j.Relationship})
			add(JoinEdge{From: j.To, To: c.Name, Relationship: j.Relationship.Reverse()})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	for _, c := range cubes {
		paths, conflicts := g.shortestPaths(c.Name)
		for _, target := range conflicts {
			errs = append(errs, model.Invalidf(c.Name, "", "join multiplicity to %q is ambiguous: shortest paths disagree on fan-out", target))
		}
		g.paths[c.Name] = paths
	}
	return g, errs
}

// shortestPaths runs a BFS from anchor. Ties between equally short paths are
// fine as long as they agree on fan-out; the first path discovered wins.
func (g *joinGraph) shortestPaths(anchor string) (map[string]*JoinPath, []string) {
	state := map[string]*pathState{anchor: {path: &JoinPath{}}}
	queue := []string{anchor}
	var order []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		cs := state[cur]

		for _, e := range g.adj[cur] {
			multiplied := cs.path.Multiplied() || e.Multiplies()
			ns, seen := state[e.To]
			if !seen {
				steps := append(append([]JoinEdge(nil), cs.path.Steps...), e)
				multiplying := append([]JoinEdge(nil), cs.path.Multiplying...)
				if e.Multiplies() {
					multiplying = append(multiplying, e)
				}
				state[e.To] = &pathState{
					dist:     cs.dist + 1,
					path:     &JoinPath{Steps: steps, Multiplying: multiplying},
					conflict: cs.conflict,
				}
				queue = append(queue, e.To)
				continue
			}
			if ns.dist == cs.dist+1 && (ns.path.Multiplied() != multiplied || cs.conflict) {
				ns.conflict = true
			}
		}
	}

	paths := make(map[string]*JoinPath, len(state))
	var conflicts []string
	for _, name := range order {
		st := state[name]
		paths[name] = st.path
		if st.conflict {
			conflicts = append(conflicts, name)
		}
	}
	return paths, conflicts
}

// Path returns the precomputed path from anchor to target, or nil when the
// cubes are not connected.
func (g *joinGraph) Path(anchor, target string) *JoinPath {
	return g.paths[anchor][target]
}
