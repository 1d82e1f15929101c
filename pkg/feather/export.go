package feather

import (
	"encoding/json"
	"sort"

	"github.com/featherdb/featherdb/pkg/store"
)

// GraphNode is the visualization-facing shape of a record.
type GraphNode struct {
	ID          uint64            `json:"id"`
	Label       string            `json:"label"`
	Type        int               `json:"type"`
	Importance  float32           `json:"importance"`
	RecallCount uint32            `json:"recall_count"`
	NamespaceID string            `json:"namespace_id"`
	EntityID    string            `json:"entity_id"`
	Source      string            `json:"source"`
	Attributes  map[string]string `json:"attributes"`
}

// GraphEdgeJSON is the visualization-facing shape of an edge.
type GraphEdgeJSON struct {
	Source  uint64  `json:"source"`
	Target  uint64  `json:"target"`
	RelType string  `json:"rel_type"`
	Weight  float32 `json:"weight"`
}

// GraphExport is the stable export shape consumed by visualization clients
// (D3, Cytoscape, vis.js).
type GraphExport struct {
	Nodes []GraphNode     `json:"nodes"`
	Edges []GraphEdgeJSON `json:"edges"`
}

// labelRunes is how much of a record's content becomes its display label.
const labelRunes = 60

// ExportGraph flattens metadata and edges into the visualization shape,
// optionally restricted by namespace and entity. Edges are emitted only when
// both endpoints are in the exported node set, so clients never see dangling
// references. Output ordering is deterministic: nodes by ID, edges by
// (source, target, rel type).
func (db *DB) ExportGraph(namespaceFilter, entityFilter string) (*GraphExport, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	export := &GraphExport{
		Nodes: []GraphNode{},
		Edges: []GraphEdgeJSON{},
	}
	exported := make(map[uint64]bool)

	db.meta.Range(func(id uint64, meta store.Metadata) bool {
		if namespaceFilter != "" && meta.NamespaceID != namespaceFilter {
			return true
		}
		if entityFilter != "" && meta.EntityID != entityFilter {
			return true
		}
		exported[id] = true

		attrs := meta.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		export.Nodes = append(export.Nodes, GraphNode{
			ID:          id,
			Label:       truncateRunes(meta.Content, labelRunes),
			Type:        int(meta.Type),
			Importance:  meta.Importance,
			RecallCount: meta.RecallCount,
			NamespaceID: meta.NamespaceID,
			EntityID:    meta.EntityID,
			Source:      meta.Source,
			Attributes:  attrs,
		})
		return true
	})

	db.graph.Range(func(src uint64, edges []store.Edge) bool {
		if !exported[src] {
			return true
		}
		for _, e := range edges {
			if !exported[e.Target] {
				continue
			}
			export.Edges = append(export.Edges, GraphEdgeJSON{
				Source:  src,
				Target:  e.Target,
				RelType: e.RelType,
				Weight:  e.Weight,
			})
		}
		return true
	})

	sort.Slice(export.Nodes, func(i, j int) bool { return export.Nodes[i].ID < export.Nodes[j].ID })
	sort.Slice(export.Edges, func(i, j int) bool {
		a, b := export.Edges[i], export.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.RelType < b.RelType
	})
	return export, nil
}

// ExportGraphJSON is ExportGraph serialized to JSON.
func (db *DB) ExportGraphJSON(namespaceFilter, entityFilter string) ([]byte, error) {
	export, err := db.ExportGraph(namespaceFilter, entityFilter)
	if err != nil {
		return nil, err
	}
	return json.Marshal(export)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
