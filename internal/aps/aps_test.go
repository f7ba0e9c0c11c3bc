package aps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_RevenueFallbackChain(t *testing.T) {
	dealAmount := 50000.0
	icp := 0.7

	withDeal := Compute(Input{NowUnix: 1000, ReceivedAtUnix: 1000, DealAmount: &dealAmount, DealCeiling: 100000, ActionKind: "send_email"})
	assert.InDelta(t, 0.5, withDeal.RevenueComponent, 1e-9)

	withICP := Compute(Input{NowUnix: 1000, ReceivedAtUnix: 1000, CompanyICP: &icp, ActionKind: "send_email"})
	assert.InDelta(t, 0.7, withICP.RevenueComponent, 1e-9)

	baseline := Compute(Input{NowUnix: 1000, ReceivedAtUnix: 1000, ActionKind: "send_email"})
	assert.InDelta(t, 0.3, baseline.RevenueComponent, 1e-9)
}

func TestCompute_UrgencyDecaysAndOverdueOverrides(t *testing.T) {
	fresh := Compute(Input{NowUnix: 1000, ReceivedAtUnix: 1000, ActionKind: "send_email"})
	assert.InDelta(t, 1.0, fresh.UrgencyComponent, 1e-9)

	stale := Compute(Input{NowUnix: 1000 + 48*3600, ReceivedAtUnix: 1000, ActionKind: "send_email"})
	assert.InDelta(t, 0.3679, stale.UrgencyComponent, 1e-3)

	overdue := int64(500)
	overdueScore := Compute(Input{NowUnix: 1000, ReceivedAtUnix: 1000, DueByUnix: &overdue, ActionKind: "send_email"})
	assert.InDelta(t, 1.0, overdueScore.UrgencyComponent, 1e-9)
}

func TestCompute_EffortComponentUsesLookupTable(t *testing.T) {
	bookMeeting := Compute(Input{NowUnix: 1, ReceivedAtUnix: 1, ActionKind: "book_meeting"})
	assert.InDelta(t, 1-2.0/60.0, bookMeeting.EffortComponent, 1e-9)

	unknown := Compute(Input{NowUnix: 1, ReceivedAtUnix: 1, ActionKind: "something_unlisted"})
	assert.InDelta(t, 1-5.0/60.0, unknown.EffortComponent, 1e-9)
}

func TestCompute_StrategicComponentSumsAndClamps(t *testing.T) {
	full := Compute(Input{
		NowUnix: 1, ReceivedAtUnix: 1, ActionKind: "send_email",
		MatchesTargetSegment: true, StrategicAccount: true, SourceFormOrCRM: true,
	})
	assert.InDelta(t, 1.0, full.StrategicComponent, 1e-9)

	none := Compute(Input{NowUnix: 1, ReceivedAtUnix: 1, ActionKind: "send_email"})
	assert.InDelta(t, 0.0, none.StrategicComponent, 1e-9)
}

func TestCompute_IsDeterministic(t *testing.T) {
	icp := 0.9
	in := Input{NowUnix: 5000, ReceivedAtUnix: 1000, CompanyICP: &icp, ActionKind: "book_meeting", MatchesTargetSegment: true}
	a := Compute(in)
	b := Compute(in)
	assert.Equal(t, a, b)
}

func TestRank_TieBreaksByReceivedAtThenID(t *testing.T) {
	items := []Ranked{
		{ID: "zzz", Score: 50.2, ReceivedAtUnix: 200},
		{ID: "aaa", Score: 50.0, ReceivedAtUnix: 200},
		{ID: "bbb", Score: 50.1, ReceivedAtUnix: 100},
		{ID: "ccc", Score: 10.0, ReceivedAtUnix: 999},
	}
	ranked := Rank(items)

	assert.Equal(t, "bbb", ranked[0].ID)
	assert.Equal(t, "aaa", ranked[1].ID)
	assert.Equal(t, "zzz", ranked[2].ID)
	assert.Equal(t, "ccc", ranked[3].ID)
}
