// Package profile provides domain-specific adapters over Feather's generic
// metadata fields.
//
// The engine stores generic namespace_id / entity_id / attributes fields; a
// profile maps domain vocabulary onto them without any schema churn. The
// marketing profile, for example, writes brand → namespace_id,
// user → entity_id, and channel/campaign/ctr/roas into the attribute bag.
// New domains are thin builder types over the same three fields.
package profile

import (
	"strconv"

	"github.com/featherdb/featherdb/pkg/store"
)

// Profile wraps a metadata record and provides typed attribute helpers.
// Domain adapters embed it.
type Profile struct {
	meta store.Metadata
}

// New returns a profile over a fresh metadata record.
func New() *Profile {
	return &Profile{meta: store.NewMetadata()}
}

// From wraps an existing record.
func From(meta store.Metadata) *Profile {
	return &Profile{meta: meta}
}

// SetNamespace sets the partition/ownership key (brand, org, tenant).
func (p *Profile) SetNamespace(v string) *Profile {
	p.meta.NamespaceID = v
	return p
}

// SetEntity sets the subject key (user, customer, product, patient).
func (p *Profile) SetEntity(v string) *Profile {
	p.meta.EntityID = v
	return p
}

// SetAttr stores a domain-specific key-value pair.
func (p *Profile) SetAttr(key, value string) *Profile {
	if p.meta.Attributes == nil {
		p.meta.Attributes = make(map[string]string)
	}
	p.meta.Attributes[key] = value
	return p
}

// Attr retrieves a stored attribute, or def when absent.
func (p *Profile) Attr(key, def string) string {
	if v, ok := p.meta.Attributes[key]; ok {
		return v
	}
	return def
}

// SetContent sets the record's content payload.
func (p *Profile) SetContent(v string) *Profile {
	p.meta.Content = v
	return p
}

// SetType sets the context type.
func (p *Profile) SetType(t store.ContextType) *Profile {
	p.meta.Type = t
	return p
}

// SetImportance sets the scorer's importance multiplier.
func (p *Profile) SetImportance(v float32) *Profile {
	p.meta.Importance = v
	return p
}

// Metadata returns the underlying record.
func (p *Profile) Metadata() store.Metadata {
	return p.meta
}

// Marketing is the digital-marketing adapter.
//
// Mapping:
//
//	namespace_id → brand
//	entity_id    → user
//	attributes   → channel, campaign_id, ctr, roas, platform, …
type Marketing struct {
	Profile
}

// NewMarketing returns a marketing profile over a fresh record.
func NewMarketing() *Marketing {
	return &Marketing{Profile{meta: store.NewMetadata()}}
}

// MarketingFrom wraps an existing record.
func MarketingFrom(meta store.Metadata) *Marketing {
	return &Marketing{Profile{meta: meta}}
}

// SetBrand sets the brand (maps to namespace_id).
func (m *Marketing) SetBrand(brand string) *Marketing {
	m.SetNamespace(brand)
	return m
}

// SetUser sets the user (maps to entity_id).
func (m *Marketing) SetUser(user string) *Marketing {
	m.SetEntity(user)
	return m
}

// SetChannel sets the acquisition/engagement channel ("instagram", "email").
func (m *Marketing) SetChannel(channel string) *Marketing {
	m.SetAttr("channel", channel)
	return m
}

// SetCampaign sets the campaign identifier.
func (m *Marketing) SetCampaign(id string) *Marketing {
	m.SetAttr("campaign_id", id)
	return m
}

// SetCTR sets the click-through rate.
func (m *Marketing) SetCTR(ctr float64) *Marketing {
	m.SetAttr("ctr", strconv.FormatFloat(ctr, 'f', -1, 64))
	return m
}

// SetROAS sets the return on ad spend.
func (m *Marketing) SetROAS(roas float64) *Marketing {
	m.SetAttr("roas", strconv.FormatFloat(roas, 'f', -1, 64))
	return m
}

// SetPlatform sets the ad platform ("meta", "google", "tiktok").
func (m *Marketing) SetPlatform(platform string) *Marketing {
	m.SetAttr("platform", platform)
	return m
}

// Brand returns the brand (namespace_id).
func (m *Marketing) Brand() string { return m.meta.NamespaceID }

// User returns the user (entity_id).
func (m *Marketing) User() string { return m.meta.EntityID }

// Channel returns the channel attribute.
func (m *Marketing) Channel() string { return m.Attr("channel", "") }

// Campaign returns the campaign identifier.
func (m *Marketing) Campaign() string { return m.Attr("campaign_id", "") }

// CTR returns the click-through rate, or 0 when unset or unparseable.
func (m *Marketing) CTR() float64 {
	v, err := strconv.ParseFloat(m.Attr("ctr", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// ROAS returns the return on ad spend, or 0 when unset or unparseable.
func (m *Marketing) ROAS() float64 {
	v, err := strconv.ParseFloat(m.Attr("roas", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// Platform returns the platform attribute.
func (m *Marketing) Platform() string { return m.Attr("platform", "") }
