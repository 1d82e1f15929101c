package filter

import (
	"testing"

	"github.com/featherdb/featherdb/pkg/store"
	"github.com/stretchr/testify/assert"
)

func sampleMeta() store.Metadata {
	return store.Metadata{
		Timestamp:   1000,
		Importance:  0.8,
		Type:        store.TypePreference,
		Source:      "crm/import",
		Content:     "prefers summer colorways",
		TagsJSON:    `["apparel","summer"]`,
		NamespaceID: "nike",
		EntityID:    "user-9",
		Attributes:  map[string]string{"channel": "instagram", "region": "emea"},
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	meta := sampleMeta()
	var nilFilter *Filter
	assert.True(t, nilFilter.Matches(&meta))
	assert.True(t, (&Filter{}).Matches(&meta))
	assert.True(t, (&Filter{}).IsEmpty())
	assert.True(t, nilFilter.IsEmpty())
}

func TestPredicates(t *testing.T) {
	meta := sampleMeta()

	tests := []struct {
		name  string
		build func(*Builder) *Builder
		want  bool
	}{
		{"namespace match", func(b *Builder) *Builder { return b.Namespace("nike") }, true},
		{"namespace mismatch", func(b *Builder) *Builder { return b.Namespace("adidas") }, false},
		{"entity match", func(b *Builder) *Builder { return b.Entity("user-9") }, true},
		{"entity mismatch", func(b *Builder) *Builder { return b.Entity("user-1") }, false},
		{"source exact", func(b *Builder) *Builder { return b.Source("crm/import") }, true},
		{"source exact mismatch", func(b *Builder) *Builder { return b.Source("crm") }, false},
		{"source prefix", func(b *Builder) *Builder { return b.SourcePrefix("crm/") }, true},
		{"source prefix mismatch", func(b *Builder) *Builder { return b.SourcePrefix("web/") }, false},
		{"importance met", func(b *Builder) *Builder { return b.ImportanceGTE(0.8) }, true},
		{"importance not met", func(b *Builder) *Builder { return b.ImportanceGTE(0.9) }, false},
		{"attribute match", func(b *Builder) *Builder { return b.Attribute("channel", "instagram") }, true},
		{"attribute wrong value", func(b *Builder) *Builder { return b.Attribute("channel", "tiktok") }, false},
		{"attribute missing key", func(b *Builder) *Builder { return b.Attribute("budget", "high") }, false},
		{"after inclusive", func(b *Builder) *Builder { return b.After(1000) }, true},
		{"after excludes older", func(b *Builder) *Builder { return b.After(1001) }, false},
		{"before inclusive", func(b *Builder) *Builder { return b.Before(1000) }, true},
		{"before excludes newer", func(b *Builder) *Builder { return b.Before(999) }, false},
		{"tag substring", func(b *Builder) *Builder { return b.Tag("summer") }, true},
		{"all tags must match", func(b *Builder) *Builder { return b.Tag("summer").Tag("winter") }, false},
		{"type allowed", func(b *Builder) *Builder { return b.Type(store.TypePreference) }, true},
		{"type set membership", func(b *Builder) *Builder { return b.Type(store.TypeFact).Type(store.TypePreference) }, true},
		{"type excluded", func(b *Builder) *Builder { return b.Type(store.TypeEvent) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.build(NewBuilder()).Build()
			assert.Equal(t, tt.want, f.Matches(&meta))
		})
	}
}

func TestConjunction(t *testing.T) {
	meta := sampleMeta()

	f := NewBuilder().
		Namespace("nike").
		Entity("user-9").
		ImportanceGTE(0.5).
		Attribute("region", "emea").
		Build()
	assert.True(t, f.Matches(&meta))

	// One failing predicate fails the whole conjunction.
	f = NewBuilder().
		Namespace("nike").
		Attribute("region", "apac").
		Build()
	assert.False(t, f.Matches(&meta))
}

func TestNilAttributesMap(t *testing.T) {
	meta := sampleMeta()
	meta.Attributes = nil
	f := NewBuilder().Attribute("any", "thing").Build()
	assert.False(t, f.Matches(&meta))
}
