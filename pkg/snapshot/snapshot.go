// Package snapshot implements Feather's single-file persistence format.
//
// A snapshot is a little-endian binary file:
//
//	[0..8)    magic     "FEATHERD"
//	[8..10)   version   uint16
//	[10..16)  reserved  zeros
//	section table: count uint32, then per section (kind uint16,
//	              offset uint64, length uint64); offsets are absolute
//	section payloads
//
// Sections carry the modality table, per-modality vectors, ID maps and ANN
// graphs, the metadata records, and the context graph. Unknown section kinds
// are ignored on load for forward compatibility; a missing required section
// fails with ErrCorruptSnapshot. The reverse graph section is written for
// fast startup elsewhere but is always reconstructed from the outgoing
// adjacency on load, which removes any possibility of a persisted
// inconsistency.
//
// Save writes to a sibling temp file and atomically renames, so readers of
// the previous snapshot are never exposed to a partial write.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/featherdb/featherdb/pkg/hnsw"
	"github.com/featherdb/featherdb/pkg/store"
)

// Magic is the 8-byte file signature.
const Magic = "FEATHERD"

// Version is bumped on breaking format changes. Loading a newer version than
// this fails with ErrCorruptSnapshot.
const Version uint16 = 1

// Section kinds.
const (
	SectionModalities uint16 = 1
	SectionVectors    uint16 = 2
	SectionIDMap      uint16 = 3
	SectionHNSW       uint16 = 4
	SectionMetadata   uint16 = 5
	SectionGraphOut   uint16 = 6
	SectionGraphIn    uint16 = 7
)

// ErrCorruptSnapshot is returned for bad magic, a too-new version, a
// truncated section, or a missing required section.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Modality is the persisted state of one vector space.
type Modality struct {
	Name    string
	Dim     int
	IDs     []uint64  // external IDs in slot order
	Vectors []float32 // len(IDs) × Dim, row-major
	Graph   *hnsw.State
}

// Snapshot is the interchange form between the engine and the file format.
type Snapshot struct {
	Modalities []Modality
	Metadata   map[uint64]store.Metadata
	Edges      map[uint64][]store.Edge // outgoing adjacency
}

// Encode serializes the snapshot to its binary form.
func Encode(s *Snapshot) []byte {
	type section struct {
		kind    uint16
		payload []byte
	}
	var sections []section

	mods := append([]Modality(nil), s.Modalities...)
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })

	// MODALITIES
	w := newWriter()
	w.u32(uint32(len(mods)))
	for _, m := range mods {
		w.str16(m.Name)
		w.u32(uint32(m.Dim))
		w.u32(uint32(len(m.IDs)))
	}
	sections = append(sections, section{SectionModalities, w.bytes()})

	// Per-modality sections, in modality-table order.
	for mi, m := range mods {
		w = newWriter()
		w.u16(uint16(mi))
		for _, f := range m.Vectors {
			w.f32(f)
		}
		sections = append(sections, section{SectionVectors, w.bytes()})

		w = newWriter()
		w.u16(uint16(mi))
		for slot, id := range m.IDs {
			w.u64(id)
			w.u32(uint32(slot))
		}
		sections = append(sections, section{SectionIDMap, w.bytes()})

		if m.Graph != nil {
			w = newWriter()
			w.u16(uint16(mi))
			w.u32(m.Graph.EntryPoint)
			w.i32(int32(m.Graph.MaxLevel))
			w.u32(uint32(len(m.Graph.Nodes)))
			for _, n := range m.Graph.Nodes {
				w.i32(int32(n.Level))
				for l := 0; l <= n.Level; l++ {
					nbs := n.Neighbors[l]
					w.u32(uint32(len(nbs)))
					for _, nb := range nbs {
						w.u32(nb)
					}
				}
			}
			sections = append(sections, section{SectionHNSW, w.bytes()})
		}
	}

	// METADATA
	w = newWriter()
	metaIDs := make([]uint64, 0, len(s.Metadata))
	for id := range s.Metadata {
		metaIDs = append(metaIDs, id)
	}
	sort.Slice(metaIDs, func(i, j int) bool { return metaIDs[i] < metaIDs[j] })
	w.u32(uint32(len(metaIDs)))
	for _, id := range metaIDs {
		m := s.Metadata[id]
		w.u64(id)
		w.i64(m.Timestamp)
		w.f32(m.Importance)
		w.u8(uint8(m.Type))
		w.u32(m.RecallCount)
		w.i64(m.LastRecalledAt)
		w.str16(m.Source)
		w.str32(m.Content)
		w.str16(m.TagsJSON)
		w.str16(m.NamespaceID)
		w.str16(m.EntityID)
		w.u16(uint16(len(m.Attributes)))
		attrKeys := make([]string, 0, len(m.Attributes))
		for k := range m.Attributes {
			attrKeys = append(attrKeys, k)
		}
		sort.Strings(attrKeys)
		for _, k := range attrKeys {
			w.str16(k)
			w.str32(m.Attributes[k])
		}
	}
	sections = append(sections, section{SectionMetadata, w.bytes()})

	// GRAPH_OUT
	w = newWriter()
	srcIDs := make([]uint64, 0, len(s.Edges))
	for id := range s.Edges {
		srcIDs = append(srcIDs, id)
	}
	sort.Slice(srcIDs, func(i, j int) bool { return srcIDs[i] < srcIDs[j] })
	w.u32(uint32(len(srcIDs)))
	for _, src := range srcIDs {
		edges := s.Edges[src]
		w.u64(src)
		w.u32(uint32(len(edges)))
		for _, e := range edges {
			w.u64(e.Target)
			w.str8(e.RelType)
			w.f32(e.Weight)
		}
	}
	sections = append(sections, section{SectionGraphOut, w.bytes()})

	// GRAPH_IN, derived from out. Written for fast startup; load rebuilds.
	w = newWriter()
	in := make(map[uint64][]store.IncomingEdge)
	for _, src := range srcIDs {
		for _, e := range s.Edges[src] {
			in[e.Target] = append(in[e.Target], store.IncomingEdge{Source: src, RelType: e.RelType, Weight: e.Weight})
		}
	}
	tgtIDs := make([]uint64, 0, len(in))
	for id := range in {
		tgtIDs = append(tgtIDs, id)
	}
	sort.Slice(tgtIDs, func(i, j int) bool { return tgtIDs[i] < tgtIDs[j] })
	w.u32(uint32(len(tgtIDs)))
	for _, tgt := range tgtIDs {
		w.u64(tgt)
		w.u32(uint32(len(in[tgt])))
		for _, ie := range in[tgt] {
			w.u64(ie.Source)
			w.str8(ie.RelType)
			w.f32(ie.Weight)
		}
	}
	sections = append(sections, section{SectionGraphIn, w.bytes()})

	// Assemble: header, table, payloads.
	tableSize := 4 + len(sections)*18
	base := 16 + tableSize

	out := newWriter()
	out.raw([]byte(Magic))
	out.u16(Version)
	out.raw(make([]byte, 6))

	out.u32(uint32(len(sections)))
	offset := base
	for _, sec := range sections {
		out.u16(sec.kind)
		out.u64(uint64(offset))
		out.u64(uint64(len(sec.payload)))
		offset += len(sec.payload)
	}
	for _, sec := range sections {
		out.raw(sec.payload)
	}
	return out.bytes()
}

// Decode parses a binary snapshot.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < 16+4 {
		return nil, fmt.Errorf("%w: file shorter than header", ErrCorruptSnapshot)
	}
	if string(data[:8]) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	hdr := &reader{buf: data, off: 8}
	version := hdr.u16()
	if version > Version {
		return nil, fmt.Errorf("%w: version %d is newer than supported %d", ErrCorruptSnapshot, version, Version)
	}
	hdr.skip(6)

	count := int(hdr.u32())
	type entry struct {
		kind   uint16
		offset uint64
		length uint64
	}
	entries := make([]entry, 0, count)
	for i := 0; i < count; i++ {
		e := entry{kind: hdr.u16(), offset: hdr.u64(), length: hdr.u64()}
		entries = append(entries, e)
	}
	if hdr.err != nil {
		return nil, fmt.Errorf("%w: truncated section table", ErrCorruptSnapshot)
	}

	payload := func(e entry) (*reader, error) {
		end := e.offset + e.length
		if e.offset > uint64(len(data)) || end > uint64(len(data)) || end < e.offset {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptSnapshot, e.kind)
		}
		return &reader{buf: data[e.offset:end]}, nil
	}

	s := &Snapshot{
		Metadata: make(map[uint64]store.Metadata),
		Edges:    make(map[uint64][]store.Edge),
	}

	var sawModalities, sawMetadata, sawGraphOut bool

	// First pass: the modality table, which later sections refer to by index.
	for _, e := range entries {
		if e.kind != SectionModalities {
			continue
		}
		r, err := payload(e)
		if err != nil {
			return nil, err
		}
		n := int(r.u32())
		for i := 0; i < n; i++ {
			name := r.str16()
			dim := int(r.u32())
			slots := int(r.u32())
			s.Modalities = append(s.Modalities, Modality{
				Name:    name,
				Dim:     dim,
				IDs:     make([]uint64, slots),
				Vectors: make([]float32, slots*dim),
			})
		}
		if r.err != nil {
			return nil, fmt.Errorf("%w: truncated modality table", ErrCorruptSnapshot)
		}
		sawModalities = true
		break
	}
	if !sawModalities {
		return nil, fmt.Errorf("%w: missing modality table", ErrCorruptSnapshot)
	}

	modByIndex := func(r *reader, kind string) (*Modality, error) {
		mi := int(r.u16())
		if r.err != nil || mi >= len(s.Modalities) {
			return nil, fmt.Errorf("%w: %s section references unknown modality %d", ErrCorruptSnapshot, kind, mi)
		}
		return &s.Modalities[mi], nil
	}

	seenVectors := make(map[string]bool)
	seenIDMap := make(map[string]bool)

	for _, e := range entries {
		r, err := payload(e)
		if err != nil {
			return nil, err
		}

		switch e.kind {
		case SectionModalities, SectionGraphIn:
			// Handled above; reverse index is always rebuilt from GRAPH_OUT.

		case SectionVectors:
			m, err := modByIndex(r, "vectors")
			if err != nil {
				return nil, err
			}
			for i := range m.Vectors {
				m.Vectors[i] = r.f32()
			}
			if r.err != nil {
				return nil, fmt.Errorf("%w: truncated vectors for modality %q", ErrCorruptSnapshot, m.Name)
			}
			seenVectors[m.Name] = true

		case SectionIDMap:
			m, err := modByIndex(r, "id map")
			if err != nil {
				return nil, err
			}
			for i := 0; i < len(m.IDs); i++ {
				id := r.u64()
				slot := int(r.u32())
				if r.err != nil || slot >= len(m.IDs) {
					return nil, fmt.Errorf("%w: bad id map for modality %q", ErrCorruptSnapshot, m.Name)
				}
				m.IDs[slot] = id
			}
			seenIDMap[m.Name] = true

		case SectionHNSW:
			m, err := modByIndex(r, "ann graph")
			if err != nil {
				return nil, err
			}
			st := &hnsw.State{
				EntryPoint: r.u32(),
				MaxLevel:   int(r.i32()),
			}
			nodes := int(r.u32())
			st.Nodes = make([]hnsw.NodeState, nodes)
			for i := 0; i < nodes; i++ {
				level := int(r.i32())
				ns := hnsw.NodeState{Level: level}
				if level >= 0 {
					ns.Neighbors = make([][]uint32, level+1)
					for l := 0; l <= level; l++ {
						cnt := int(r.u32())
						if r.err != nil || cnt > len(r.buf) {
							return nil, fmt.Errorf("%w: truncated ann graph for modality %q", ErrCorruptSnapshot, m.Name)
						}
						nbs := make([]uint32, cnt)
						for j := range nbs {
							nbs[j] = r.u32()
						}
						ns.Neighbors[l] = nbs
					}
				}
				st.Nodes[i] = ns
			}
			if r.err != nil {
				return nil, fmt.Errorf("%w: truncated ann graph for modality %q", ErrCorruptSnapshot, m.Name)
			}
			m.Graph = st

		case SectionMetadata:
			n := int(r.u32())
			for i := 0; i < n; i++ {
				id := r.u64()
				m := store.Metadata{
					Timestamp:      r.i64(),
					Importance:     r.f32(),
					Type:           store.ContextType(r.u8()),
					RecallCount:    r.u32(),
					LastRecalledAt: r.i64(),
					Source:         r.str16(),
					Content:        r.str32(),
					TagsJSON:       r.str16(),
					NamespaceID:    r.str16(),
					EntityID:       r.str16(),
				}
				attrs := int(r.u16())
				if attrs > 0 {
					m.Attributes = make(map[string]string, attrs)
					for j := 0; j < attrs; j++ {
						k := r.str16()
						m.Attributes[k] = r.str32()
					}
				}
				if r.err != nil {
					return nil, fmt.Errorf("%w: truncated metadata section", ErrCorruptSnapshot)
				}
				s.Metadata[id] = m
			}
			sawMetadata = true

		case SectionGraphOut:
			n := int(r.u32())
			for i := 0; i < n; i++ {
				src := r.u64()
				cnt := int(r.u32())
				if r.err != nil || cnt > len(r.buf) {
					return nil, fmt.Errorf("%w: truncated graph section", ErrCorruptSnapshot)
				}
				edges := make([]store.Edge, 0, cnt)
				for j := 0; j < cnt; j++ {
					edges = append(edges, store.Edge{
						Target:  r.u64(),
						RelType: r.str8(),
						Weight:  r.f32(),
					})
				}
				if r.err != nil {
					return nil, fmt.Errorf("%w: truncated graph section", ErrCorruptSnapshot)
				}
				s.Edges[src] = edges
			}
			sawGraphOut = true

		default:
			// Unknown section kind: ignore for forward compatibility.
		}
	}

	if !sawMetadata {
		return nil, fmt.Errorf("%w: missing metadata section", ErrCorruptSnapshot)
	}
	if !sawGraphOut {
		return nil, fmt.Errorf("%w: missing graph section", ErrCorruptSnapshot)
	}
	for _, m := range s.Modalities {
		if len(m.IDs) == 0 {
			continue
		}
		if !seenVectors[m.Name] || !seenIDMap[m.Name] {
			return nil, fmt.Errorf("%w: modality %q missing vectors or id map", ErrCorruptSnapshot, m.Name)
		}
	}

	return s, nil
}

// Save encodes the snapshot to a sibling temp file and atomically renames it
// over path.
func Save(path string, s *Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}

	if _, err := file.Write(Encode(s)); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	file.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Load reads and decodes a snapshot file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	return Decode(data)
}
