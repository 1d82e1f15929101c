// Package filter implements the metadata predicate applied during search.
//
// A Filter is a conjunction of optional predicates over a record's metadata.
// Matches evaluates them cheapest-first: exact string equality before
// prefix checks, prefix checks before map lookups, map lookups before
// substring scans. The zero Filter matches everything.
package filter

import (
	"strings"

	"github.com/featherdb/featherdb/pkg/store"
)

// Filter is a conjunction of optional predicates. Nil/empty fields are
// skipped.
type Filter struct {
	NamespaceID     *string             `json:"namespace_id,omitempty"`
	EntityID        *string             `json:"entity_id,omitempty"`
	Source          *string             `json:"source,omitempty"`
	SourcePrefix    *string             `json:"source_prefix,omitempty"`
	ImportanceGTE   *float32            `json:"importance_gte,omitempty"`
	AttributesMatch map[string]string   `json:"attributes_match,omitempty"`
	TimestampAfter  *int64              `json:"timestamp_after,omitempty"`
	TimestampBefore *int64              `json:"timestamp_before,omitempty"`
	TagsContains    []string            `json:"tags_contains,omitempty"`
	Types           []store.ContextType `json:"types,omitempty"`
}

// IsEmpty reports whether no predicate is set. An empty filter is a no-op.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.NamespaceID == nil &&
		f.EntityID == nil &&
		f.Source == nil &&
		f.SourcePrefix == nil &&
		f.ImportanceGTE == nil &&
		len(f.AttributesMatch) == 0 &&
		f.TimestampAfter == nil &&
		f.TimestampBefore == nil &&
		len(f.TagsContains) == 0 &&
		len(f.Types) == 0
}

// Matches reports whether meta satisfies every set predicate.
func (f *Filter) Matches(meta *store.Metadata) bool {
	if f == nil {
		return true
	}

	if f.NamespaceID != nil && meta.NamespaceID != *f.NamespaceID {
		return false
	}
	if f.EntityID != nil && meta.EntityID != *f.EntityID {
		return false
	}
	if f.Source != nil && meta.Source != *f.Source {
		return false
	}
	if f.SourcePrefix != nil && !strings.HasPrefix(meta.Source, *f.SourcePrefix) {
		return false
	}
	if f.ImportanceGTE != nil && meta.Importance < *f.ImportanceGTE {
		return false
	}
	for k, v := range f.AttributesMatch {
		got, ok := meta.Attributes[k]
		if !ok || got != v {
			return false
		}
	}
	if f.TimestampAfter != nil && meta.Timestamp < *f.TimestampAfter {
		return false
	}
	if f.TimestampBefore != nil && meta.Timestamp > *f.TimestampBefore {
		return false
	}
	for _, tag := range f.TagsContains {
		if !strings.Contains(meta.TagsJSON, tag) {
			return false
		}
	}
	if len(f.Types) > 0 {
		found := false
		for _, typ := range f.Types {
			if meta.Type == typ {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Builder constructs a Filter fluently.
//
// Example:
//
//	f := filter.NewBuilder().
//		Namespace("nike").
//		ImportanceGTE(0.5).
//		Tag("campaign").
//		Build()
type Builder struct {
	f Filter
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Namespace requires namespace_id equality.
func (b *Builder) Namespace(ns string) *Builder {
	b.f.NamespaceID = &ns
	return b
}

// Entity requires entity_id equality.
func (b *Builder) Entity(eid string) *Builder {
	b.f.EntityID = &eid
	return b
}

// Source requires source equality.
func (b *Builder) Source(src string) *Builder {
	b.f.Source = &src
	return b
}

// SourcePrefix requires the source to start with prefix.
func (b *Builder) SourcePrefix(prefix string) *Builder {
	b.f.SourcePrefix = &prefix
	return b
}

// ImportanceGTE requires importance >= v.
func (b *Builder) ImportanceGTE(v float32) *Builder {
	b.f.ImportanceGTE = &v
	return b
}

// Attribute requires attributes[key] == value.
func (b *Builder) Attribute(key, value string) *Builder {
	if b.f.AttributesMatch == nil {
		b.f.AttributesMatch = make(map[string]string)
	}
	b.f.AttributesMatch[key] = value
	return b
}

// After requires timestamp >= ts.
func (b *Builder) After(ts int64) *Builder {
	b.f.TimestampAfter = &ts
	return b
}

// Before requires timestamp <= ts.
func (b *Builder) Before(ts int64) *Builder {
	b.f.TimestampBefore = &ts
	return b
}

// Tag requires tags_json to contain tag as a substring.
func (b *Builder) Tag(tag string) *Builder {
	b.f.TagsContains = append(b.f.TagsContains, tag)
	return b
}

// Type allows records of the given type. Multiple calls accumulate.
func (b *Builder) Type(t store.ContextType) *Builder {
	b.f.Types = append(b.f.Types, t)
	return b
}

// Build returns the assembled filter.
func (b *Builder) Build() *Filter {
	out := b.f
	return &out
}
