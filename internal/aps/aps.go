// Package aps computes the Action Priority Score: a pure, deterministic
// function over revenue, urgency, effort, and strategic inputs. It never
// reads rules or outcomes directly — the caller assembles Input from
// those sources. It is written as a small, dependency-free pure
// function, the same weighted-sum-style shape used elsewhere in this
// codebase for compliance math.
package aps

import (
	"math"
	"sort"
)

const (
	weightRevenue   = 0.40
	weightUrgency   = 0.25
	weightEffort    = 0.15
	weightStrategic = 0.20

	urgencyTauHours = 48.0
	effortDenominatorMinutes = 60.0
)

// EstimatedMinutes is the action-kind effort lookup table
var EstimatedMinutes = map[string]float64{
	"send_email":   5,
	"book_meeting": 2,
	"update_deal":  3,
	"create_task":  2,
	"default":      5,
}

// Input bundles every value the APS formula needs. All time-sensitive
// fields are explicit so the scorer stays a pure function of its
// arguments.
type Input struct {
	ID           string
	ReceivedAtUnix int64

	// Revenue component inputs.
	DealAmount   *float64
	DealCeiling  float64
	CompanyICP   *float64

	// Urgency component inputs.
	NowUnix  int64
	DueByUnix *int64

	// Effort component inputs.
	ActionKind string

	// Strategic component inputs.
	MatchesTargetSegment bool
	StrategicAccount     bool
	SourceFormOrCRM      bool
}

// Score is the computed APS result plus its components, kept for
// auditability in reasoning strings surfaced to operators.
type Score struct {
	Total               float64
	RevenueComponent    float64
	UrgencyComponent    float64
	EffortComponent     float64
	StrategicComponent  float64
}

// Compute is pure: the same Input always yields a bit-identical Score.
func Compute(in Input) Score {
	revenue := revenueComponent(in)
	urgency := urgencyComponent(in)
	effort := effortComponent(in)
	strategic := strategicComponent(in)

	total := 100 * (weightRevenue*revenue + weightUrgency*urgency + weightEffort*effort + weightStrategic*strategic)

	return Score{
		Total:              total,
		RevenueComponent:   revenue,
		UrgencyComponent:   urgency,
		EffortComponent:    effort,
		StrategicComponent: strategic,
	}
}

func revenueComponent(in Input) float64 {
	if in.DealAmount != nil && in.DealCeiling > 0 {
		return clamp(*in.DealAmount/in.DealCeiling, 0, 1)
	}
	if in.CompanyICP != nil {
		return clamp(*in.CompanyICP, 0, 1)
	}
	return 0.3
}

func urgencyComponent(in Input) float64 {
	if in.DueByUnix != nil && *in.DueByUnix < in.NowUnix {
		return 1.0
	}
	deltaHours := float64(in.NowUnix-in.ReceivedAtUnix) / 3600.0
	if deltaHours < 0 {
		deltaHours = 0
	}
	return math.Exp(-deltaHours / urgencyTauHours)
}

func effortComponent(in Input) float64 {
	minutes, ok := EstimatedMinutes[in.ActionKind]
	if !ok {
		minutes = EstimatedMinutes["default"]
	}
	normalized := clamp(minutes/effortDenominatorMinutes, 0, 1)
	return 1 - normalized
}

func strategicComponent(in Input) float64 {
	var s float64
	if in.MatchesTargetSegment {
		s += 0.5
	}
	if in.StrategicAccount {
		s += 0.3
	}
	if in.SourceFormOrCRM {
		s += 0.2
	}
	return clamp(s, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ranked is one scored candidate ready for tie-break ordering.
type Ranked struct {
	ID         string
	Score      float64
	ReceivedAtUnix int64
}

// Rank orders candidates by descending APS, applying the
// tie-break: items within ±0.5 APS are ordered by older received_at
// first, then lexicographically by id.
func Rank(items []Ranked) []Ranked {
	out := make([]Ranked, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.Score-b.Score) <= 0.5 {
			if a.ReceivedAtUnix != b.ReceivedAtUnix {
				return a.ReceivedAtUnix < b.ReceivedAtUnix
			}
			return a.ID < b.ID
		}
		return a.Score > b.Score
	})
	return out
}
