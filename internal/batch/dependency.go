package batch

import (
	"fmt"
	"strings"

	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// plannedOp is one normalized batch operation plus its resolved edge set,
// produced by Plan and consumed in topological order by the orchestrator.
type plannedOp struct {
	id   string
	spec operation.OperationSpec
	deps []string
}

// Plan normalizes operation ids, builds the dependency graph (spec.md
// §4.7), and returns operations in topological order. Ties break by
// original position: among all operations whose dependencies are done, the
// one that appeared earliest in the request runs next (Kahn's algorithm with
// a ready set ordered by position, not a FIFO queue).
func Plan(specs []operation.OperationSpec) ([]plannedOp, error) {
	ids := make([]string, len(specs))
	seen := make(map[string]int, len(specs))
	for i, s := range specs {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("op_%d", i)
		}
		if prior, dup := seen[id]; dup {
			return nil, gatewayerr.Newf(gatewayerr.BadRequest, "duplicate batch operation id %q (positions %d and %d)", id, prior, i)
		}
		seen[id] = i
		ids[i] = id
	}

	nodes := make([]plannedOp, len(specs))
	for i, s := range specs {
		deps := make(map[string]struct{})
		for _, d := range s.DependsOn {
			if _, ok := seen[d]; !ok {
				return nil, gatewayerr.Newf(gatewayerr.BadRequest, "operation %q depends_on unknown id %q", ids[i], d)
			}
			deps[d] = struct{}{}
		}
		for _, ref := range referencedOpIDs(s.QueryParams, s.StoreParams, s.MetadataParams, s.CustomBindings) {
			if _, ok := seen[ref]; !ok {
				return nil, gatewayerr.Newf(gatewayerr.BadRequest, "operation %q references unknown id %q via $ref", ids[i], ref)
			}
			deps[ref] = struct{}{}
		}
		depList := make([]string, 0, len(deps))
		for d := range deps {
			depList = append(depList, d)
		}
		nodes[i] = plannedOp{id: ids[i], spec: s, deps: depList}
	}

	return topologicalSort(nodes)
}

// referencedOpIDs scans one or more parameter-tree values for `$ref:op_id...`
// tokens and returns the distinct set of op_id prefixes referenced.
func referencedOpIDs(trees ...any) []string {
	found := make(map[string]struct{})
	for _, t := range trees {
		collectRefIDs(t, found)
	}
	out := make([]string, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	return out
}

func collectRefIDs(v any, found map[string]struct{}) {
	switch t := v.(type) {
	case string:
		rest := t
		for {
			idx := strings.Index(rest, refPrefix)
			if idx < 0 {
				return
			}
			tok, remainder := extractToken(rest[idx:])
			body := strings.TrimPrefix(tok, refPrefix)
			if opID, _, ok := strings.Cut(body, "."); ok {
				found[opID] = struct{}{}
			}
			rest = remainder
		}
	case map[string]string:
		for _, v := range t {
			collectRefIDs(v, found)
		}
	case map[string]any:
		for _, v := range t {
			collectRefIDs(v, found)
		}
	case []any:
		for _, v := range t {
			collectRefIDs(v, found)
		}
	}
}

// topologicalSort runs Kahn's algorithm over nodes, whose deps name
// predecessor ids. The ready queue is seeded and drained in original
// insertion order so ties resolve deterministically.
func topologicalSort(nodes []plannedOp) ([]plannedOp, error) {
	byID := make(map[string]*plannedOp, len(nodes))
	indexOf := make(map[string]int, len(nodes))
	for i := range nodes {
		byID[nodes[i].id] = &nodes[i]
		indexOf[nodes[i].id] = i
	}

	indegree := make(map[string]int, len(nodes))
	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n.id] = len(n.deps)
		for _, d := range n.deps {
			children[d] = append(children[d], n.id)
		}
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n.id] == 0 {
			ready = append(ready, n.id)
		}
	}

	var order []plannedOp
	visited := make(map[string]bool, len(nodes))
	for len(ready) > 0 {
		// Pop the earliest-inserted ready node (stable tie-break).
		bestIdx := 0
		for i, id := range ready {
			if indexOf[id] < indexOf[ready[bestIdx]] {
				bestIdx = i
			}
		}
		id := ready[bestIdx]
		ready = append(ready[:bestIdx], ready[bestIdx+1:]...)

		order = append(order, *byID[id])
		visited[id] = true
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) < len(nodes) {
		cyclePath := findCyclePath(nodes, visited)
		return nil, gatewayerr.Newf(gatewayerr.BadRequest, "cyclic batch dependency graph: %s", strings.Join(cyclePath, " -> "))
	}

	return order, nil
}

// findCyclePath walks predecessor edges from an arbitrary unvisited node
// until it repeats one, producing an example cycle for the error message.
func findCyclePath(nodes []plannedOp, visited map[string]bool) []string {
	byID := make(map[string]*plannedOp, len(nodes))
	for i := range nodes {
		byID[nodes[i].id] = &nodes[i]
	}

	var start string
	for _, n := range nodes {
		if !visited[n.id] {
			start = n.id
			break
		}
	}

	path := []string{start}
	onPath := map[string]int{start: 0}
	cur := start
	for {
		n := byID[cur]
		next := ""
		for _, d := range n.deps {
			if !visited[d] {
				next = d
				break
			}
		}
		if next == "" {
			break
		}
		if firstIdx, seen := onPath[next]; seen {
			path = append(path, next)
			return path[firstIdx:]
		}
		onPath[next] = len(path)
		path = append(path, next)
		cur = next
	}
	return path
}
