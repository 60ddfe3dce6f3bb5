// Package ranker scores currently-inside occupants by how removable they
// are when the space is full. Scoring is a pure function of its arguments;
// the engine passes every input explicitly so identical inputs always
// produce identical output.
package ranker

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Factor weights. They must sum to exactly 1.0; init enforces it.
const (
	weightTimeInside  = 0.20
	weightRemaining   = 0.10
	weightEntryOrder  = 0.10
	weightRecency     = 0.08
	weightFrequency   = 0.08
	weightPrivilege   = 0.08
	weightAge         = 0.05
	weightDemographic = 0.04
	weightCooperation = 0.12
	weightDemand      = 0.15
)

func init() {
	sum := weightTimeInside + weightRemaining + weightEntryOrder + weightRecency +
		weightFrequency + weightPrivilege + weightAge + weightDemographic +
		weightCooperation + weightDemand
	if math.Abs(sum-1.0) > 1e-9 {
		panic(fmt.Sprintf("ranker: factor weights sum to %v, want 1.0", sum))
	}
}

// Bounds carries the normalization caps for the time-based factors.
type Bounds struct {
	TimeInsideCapMinutes float64
	RemainingCapMinutes  float64
	AgeCap               float64
}

// DefaultBounds returns the standard normalization caps.
func DefaultBounds() Bounds {
	return Bounds{TimeInsideCapMinutes: 120, RemainingCapMinutes: 120, AgeCap: 70}
}

// Candidate is one open session joined with its occupant's profile.
type Candidate struct {
	OccupantID      int64
	DisplayName     string
	EntryTime       time.Time
	Deadline        time.Time
	Seq             uint64
	Privileged      bool
	Age             *int
	LastVisit       *time.Time
	MonthlyVisits   int
	Cooperativeness float64
}

// Context carries everything Score needs beyond the candidate itself.
type Context struct {
	Now         time.Time
	TotalInside int
	// EntryRank is the candidate's position among currently-inside
	// occupants ordered by entry time; 1 is the earliest arrival.
	EntryRank int
	Bounds    Bounds
}

// Factors is the normalized per-factor breakdown, each in [0, 1].
type Factors struct {
	TimeInside  float64 `json:"time_inside"`
	Remaining   float64 `json:"remaining"`
	EntryOrder  float64 `json:"entry_order"`
	Recency     float64 `json:"recency"`
	Frequency   float64 `json:"frequency"`
	Privilege   float64 `json:"privilege"`
	Age         float64 `json:"age"`
	Demographic float64 `json:"demographic"`
	Cooperation float64 `json:"cooperation"`
	Demand      float64 `json:"demand"`
}

// Scored is a candidate with its final score and factor breakdown.
type Scored struct {
	Candidate
	Score   float64 `json:"score"`
	Factors Factors `json:"factors"`
}

// Score computes the removal score for one candidate: the weighted sum of
// the normalized factors, rounded to three decimals and clamped to [0, 1].
// Higher means more removable.
func Score(c Candidate, ctx Context) (float64, Factors) {
	f := factors(c, ctx)
	total := weightTimeInside*f.TimeInside +
		weightRemaining*f.Remaining +
		weightEntryOrder*f.EntryOrder +
		weightRecency*f.Recency +
		weightFrequency*f.Frequency +
		weightPrivilege*f.Privilege +
		weightAge*f.Age +
		weightDemographic*f.Demographic +
		weightCooperation*f.Cooperation +
		weightDemand*f.Demand
	return clamp01(math.Round(total*1000) / 1000), f
}

func factors(c Candidate, ctx Context) Factors {
	b := ctx.Bounds

	elapsed := ctx.Now.Sub(c.EntryTime).Minutes()
	remaining := c.Deadline.Sub(ctx.Now).Minutes()

	var recency float64
	if c.LastVisit != nil {
		days := ctx.Now.Sub(*c.LastVisit).Hours() / 24
		recency = math.Max(0, 1-days/30)
	}

	var privilege float64 = 1
	if c.Privileged {
		privilege = 0
	}

	age := 0.5
	if c.Age != nil {
		age = clamp01((b.AgeCap - float64(*c.Age)) / b.AgeCap)
	}

	total := ctx.TotalInside
	if total < 1 {
		total = 1
	}

	return Factors{
		TimeInside:  clamp01(elapsed / b.TimeInsideCapMinutes),
		Remaining:   clamp01(remaining / b.RemainingCapMinutes),
		EntryOrder:  float64(ctx.EntryRank) / float64(total),
		Recency:     recency,
		Frequency:   1 - math.Min(1, float64(c.MonthlyVisits)/10),
		Privilege:   privilege,
		Age:         age,
		Demographic: 0.5,
		Cooperation: clamp01(1 - c.Cooperativeness),
		Demand:      demandFactor(ctx.Now),
	}
}

// demandFactor maps the local hour to a demand level: peak hours weigh a
// removal heavier than quiet ones.
func demandFactor(now time.Time) float64 {
	h := now.Hour()
	switch {
	case (h >= 9 && h < 12) || (h >= 17 && h < 20):
		return 1.0
	case h == 8 || h == 20:
		return 0.5
	default:
		return 0.2
	}
}

// Rank scores every candidate and returns them in removal order: score
// descending, then non-privileged first, then entry time ascending, then
// sequence number ascending. The result is a strict total order; input
// order never affects any individual score.
func Rank(cands []Candidate, now time.Time, b Bounds) []Scored {
	ordered := make([]Candidate, len(cands))
	copy(ordered, cands)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].EntryTime.Equal(ordered[j].EntryTime) {
			return ordered[i].EntryTime.Before(ordered[j].EntryTime)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	scored := make([]Scored, len(ordered))
	for i, c := range ordered {
		ctx := Context{Now: now, TotalInside: len(ordered), EntryRank: i + 1, Bounds: b}
		s, f := Score(c, ctx)
		scored[i] = Scored{Candidate: c, Score: s, Factors: f}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Factors.Privilege != scored[j].Factors.Privilege {
			return scored[i].Factors.Privilege > scored[j].Factors.Privilege
		}
		if !scored[i].EntryTime.Equal(scored[j].EntryTime) {
			return scored[i].EntryTime.Before(scored[j].EntryTime)
		}
		return scored[i].Seq < scored[j].Seq
	})
	return scored
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
