// Package scoring implements Feather's living-context scoring model: raw ANN
// similarity re-ranked by time decay that is modulated by recall stickiness
// and importance.
//
// The model rests on three observations about memory-shaped data:
//   - Recency: older records matter less, following an exponential half-life.
//   - Stickiness: records that are recalled often should age more slowly.
//     Stickiness grows logarithmically with the recall counter, so no
//     per-access decay checkpoint has to be stored.
//   - Importance: a caller-assigned multiplier on the time component, so a
//     pinned fact can outlive its age and a soft-deleted one (importance 0)
//     contributes nothing beyond raw similarity.
//
// With Weight == 0 the model degenerates to raw similarity and search
// ordering is bit-identical to unscored search.
//
// Example:
//
//	cfg := scoring.DefaultConfig()
//	cfg.Weight = 0.4
//	score := scoring.Score(sim, meta, cfg, time.Now().Unix())
package scoring

import (
	"math"

	"github.com/featherdb/featherdb/pkg/store"
)

// Config controls the time-decay re-ranking of search results.
type Config struct {
	// HalfLifeDays is the recency half-life in days. Default: 30.
	HalfLifeDays float64 `json:"half_life_days" yaml:"half_life_days"`

	// Weight is the time contribution in [0,1]. 0 means pure similarity.
	Weight float64 `json:"weight" yaml:"weight"`

	// Min is a floor on the time component, preventing cold records from
	// vanishing entirely. Default: 0.
	Min float64 `json:"min" yaml:"min"`
}

// DefaultConfig returns the stated defaults: 30-day half-life, weight 0
// (pure similarity), no floor.
func DefaultConfig() Config {
	return Config{HalfLifeDays: 30, Weight: 0, Min: 0}
}

// Stickiness returns the decay-slowing factor for a recall counter:
// 1 + ln(1 + recallCount). A never-recalled record has stickiness 1; ten
// recalls ≈ 3.4; a hundred ≈ 5.6.
func Stickiness(recallCount uint32) float64 {
	return 1.0 + math.Log(1.0+float64(recallCount))
}

// TimeComponent returns the decayed recency in [Min, 1] for a record at
// nowUnix: 0.5^(effectiveAge / halfLife) where the effective age is the real
// age divided by stickiness.
func TimeComponent(meta store.Metadata, cfg Config, nowUnix int64) float64 {
	ageSeconds := float64(nowUnix - meta.Timestamp)
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	ageDays := ageSeconds / 86400.0

	effectiveAge := ageDays / Stickiness(meta.RecallCount)

	halfLife := cfg.HalfLifeDays
	if halfLife <= 0 {
		halfLife = DefaultConfig().HalfLifeDays
	}
	recency := math.Pow(0.5, effectiveAge/halfLife)

	if recency < cfg.Min {
		recency = cfg.Min
	}
	return recency
}

// Score combines a raw similarity in [0,1] with the record's time component:
//
//	score = sim*(1-weight) + timeComponent*weight*max(0, importance)
//
// Importance multiplies only the time component, so similarity ordering is
// untouched when Weight is 0.
func Score(sim float64, meta store.Metadata, cfg Config, nowUnix int64) float64 {
	if cfg.Weight == 0 {
		return sim
	}

	importance := float64(meta.Importance)
	if importance < 0 {
		importance = 0
	}

	return sim*(1.0-cfg.Weight) + TimeComponent(meta, cfg, nowUnix)*cfg.Weight*importance
}
