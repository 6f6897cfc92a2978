// Package layout positions the nodes of one sub-canvas in columns.
//
// Nodes are leveled by a multi-source breadth-first walk from the roots
// (nodes with no incoming edge, plus every ISSUE node). Each level becomes a
// column; within a column nodes are ordered by type and then by input order,
// and the column is centred in a fixed-height band.
//
// The result depends only on the node order, the node types and the edges,
// never on the current positions, so re-running it on its own output changes
// nothing.
package layout

import (
	"math"
	"sort"

	"github.com/layerflow/layerflow-core/internal/infrastructure/config"
	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Config holds the spacing constants in canvas units.
type Config struct {
	HorizontalSpacing float64
	VerticalSpacing   float64
	InitialX          float64
	InitialY          float64
	BandHeight        float64
}

// DefaultConfig returns the reference spacing.
func DefaultConfig() Config {
	return Config{
		HorizontalSpacing: 300,
		VerticalSpacing:   130,
		InitialX:          50,
		InitialY:          80,
		BandHeight:        400,
	}
}

// FromConfig converts the layout section of the service configuration.
// A zero band height falls back to the default.
func FromConfig(c config.LayoutConfig) Config {
	cfg := Config{
		HorizontalSpacing: c.HorizontalSpacing,
		VerticalSpacing:   c.VerticalSpacing,
		InitialX:          c.InitialX,
		InitialY:          c.InitialY,
		BandHeight:        c.BandHeight,
	}
	if cfg.BandHeight <= 0 {
		cfg.BandHeight = DefaultConfig().BandHeight
	}
	return cfg
}

// unknownPriority sorts types missing from the table after all known ones.
const unknownPriority = 99

var typePriority = map[workflow.NodeType]int{
	workflow.NodeIssue:       0,
	workflow.NodeAction:      1,
	workflow.NodeTask:        2,
	workflow.NodeResource:    3,
	workflow.NodeDeliverable: 4,
	workflow.NodeBlocker:     5,
	workflow.NodeNote:        6,
	workflow.NodeStickyNote:  7,
}

func priority(t workflow.NodeType) int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return unknownPriority
}

// Levels assigns each node a column index.
//
// A node's level is fixed the first time it is dequeued; a later, shorter
// rediscovery does not move it. Edge types do not matter. Nodes the walk
// never reaches share the level after the deepest reached one.
func Levels(nodes []workflow.Node, edges []workflow.Edge) map[string]int {
	levels := make(map[string]int, len(nodes))
	if len(nodes) == 0 {
		return levels
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = i
		}
	}

	children := make([][]int, len(nodes))
	inDegree := make([]int, len(nodes))
	for _, e := range edges {
		src, srcOK := index[e.SourceID]
		dst, dstOK := index[e.TargetID]
		if !srcOK || !dstOK {
			continue
		}
		children[src] = append(children[src], dst)
		inDegree[dst]++
	}

	var roots []int
	for i, n := range nodes {
		if inDegree[i] == 0 || n.Type == workflow.NodeIssue {
			roots = append(roots, i)
		}
	}
	if len(roots) == 0 {
		minimum := 0
		for i := range nodes {
			if inDegree[i] < inDegree[minimum] {
				minimum = i
			}
		}
		roots = []int{minimum}
	}

	type item struct{ node, level int }
	queue := make([]item, 0, len(nodes))
	for _, r := range roots {
		queue = append(queue, item{node: r})
	}

	visited := make([]bool, len(nodes))
	maxLevel := 0
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		levels[nodes[cur.node].ID] = cur.level
		if cur.level > maxLevel {
			maxLevel = cur.level
		}
		for _, child := range children[cur.node] {
			if !visited[child] {
				queue = append(queue, item{node: child, level: cur.level + 1})
			}
		}
	}

	for i, n := range nodes {
		if !visited[i] {
			if _, seen := levels[n.ID]; !seen {
				levels[n.ID] = maxLevel + 1
			}
		}
	}
	return levels
}

// Compute returns the new position of every node, keyed by id.
func Compute(cfg Config, nodes []workflow.Node, edges []workflow.Edge) map[string]workflow.Position {
	levels := Levels(nodes, edges)

	type entry struct {
		id    string
		order int
		prio  int
	}
	columns := make(map[int][]entry)
	var keys []int
	seen := make(map[string]struct{}, len(nodes))
	for i, n := range nodes {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		level := levels[n.ID]
		if _, ok := columns[level]; !ok {
			keys = append(keys, level)
		}
		columns[level] = append(columns[level], entry{id: n.ID, order: i, prio: priority(n.Type)})
	}
	sort.Ints(keys)

	positions := make(map[string]workflow.Position, len(nodes))
	for _, level := range keys {
		column := columns[level]
		sort.SliceStable(column, func(a, b int) bool {
			if column[a].prio != column[b].prio {
				return column[a].prio < column[b].prio
			}
			return column[a].order < column[b].order
		})

		totalHeight := float64(len(column)-1) * cfg.VerticalSpacing
		startY := cfg.InitialY + math.Max(0, (cfg.BandHeight-totalHeight)/2)
		x := cfg.InitialX + float64(level)*cfg.HorizontalSpacing
		for i, e := range column {
			positions[e.id] = workflow.Position{X: x, Y: startY + float64(i)*cfg.VerticalSpacing}
		}
	}
	return positions
}

// Apply returns a copy of nodes with the computed positions, in input order.
func Apply(cfg Config, nodes []workflow.Node, edges []workflow.Edge) []workflow.Node {
	positions := Compute(cfg, nodes, edges)
	out := workflow.CloneNodes(nodes)
	for i := range out {
		if p, ok := positions[out[i].ID]; ok {
			out[i].Position = p
		}
	}
	return out
}
