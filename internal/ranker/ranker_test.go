package ranker

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Noon sits outside the peak windows (peak ends at 12:00), giving the
// baseline 0.2 demand factor.
var noon = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func candidate(id int64, entry time.Time) Candidate {
	return Candidate{
		OccupantID:      id,
		EntryTime:       entry,
		Deadline:        entry.Add(time.Hour),
		Seq:             uint64(id),
		Cooperativeness: 0.5,
	}
}

func TestScore_WithinUnitInterval(t *testing.T) {
	young := 20
	old := 95
	recent := noon.Add(-24 * time.Hour)
	cases := []Candidate{
		candidate(1, noon.Add(-10*time.Minute)),
		{OccupantID: 2, EntryTime: noon.Add(-5 * time.Hour), Deadline: noon.Add(-4 * time.Hour), Seq: 2},
		{OccupantID: 3, EntryTime: noon, Deadline: noon.Add(time.Hour), Seq: 3, Privileged: true, Age: &young, LastVisit: &recent, MonthlyVisits: 40, Cooperativeness: 1.5},
		{OccupantID: 4, EntryTime: noon, Deadline: noon.Add(time.Hour), Seq: 4, Age: &old, Cooperativeness: -0.5},
	}
	for _, c := range cases {
		score, f := Score(c, Context{Now: noon, TotalInside: 4, EntryRank: 1, Bounds: DefaultBounds()})
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		for _, v := range []float64{f.TimeInside, f.Remaining, f.EntryOrder, f.Recency, f.Frequency, f.Privilege, f.Age, f.Demographic, f.Cooperation, f.Demand} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestFactors_Normalization(t *testing.T) {
	b := DefaultBounds()
	ctx := Context{Now: noon, TotalInside: 4, EntryRank: 2, Bounds: b}

	t.Run("time inside caps at two hours", func(t *testing.T) {
		c := candidate(1, noon.Add(-60*time.Minute))
		_, f := Score(c, ctx)
		assert.InDelta(t, 0.5, f.TimeInside, 1e-9)

		c = candidate(1, noon.Add(-5*time.Hour))
		_, f = Score(c, ctx)
		assert.Equal(t, 1.0, f.TimeInside)
	})

	t.Run("remaining time never goes negative", func(t *testing.T) {
		c := candidate(1, noon.Add(-2*time.Hour)) // deadline an hour ago
		_, f := Score(c, ctx)
		assert.Equal(t, 0.0, f.Remaining)
	})

	t.Run("entry order is rank over total", func(t *testing.T) {
		_, f := Score(candidate(1, noon), ctx)
		assert.InDelta(t, 0.5, f.EntryOrder, 1e-9)
	})

	t.Run("unknown last visit reads as zero recency", func(t *testing.T) {
		_, f := Score(candidate(1, noon), ctx)
		assert.Equal(t, 0.0, f.Recency)
	})

	t.Run("recency decays over thirty days", func(t *testing.T) {
		c := candidate(1, noon)
		visit := noon.Add(-15 * 24 * time.Hour)
		c.LastVisit = &visit
		_, f := Score(c, ctx)
		assert.InDelta(t, 0.5, f.Recency, 1e-9)

		stale := noon.Add(-90 * 24 * time.Hour)
		c.LastVisit = &stale
		_, f = Score(c, ctx)
		assert.Equal(t, 0.0, f.Recency)
	})

	t.Run("frequency saturates at ten visits", func(t *testing.T) {
		c := candidate(1, noon)
		c.MonthlyVisits = 5
		_, f := Score(c, ctx)
		assert.InDelta(t, 0.5, f.Frequency, 1e-9)

		c.MonthlyVisits = 25
		_, f = Score(c, ctx)
		assert.Equal(t, 0.0, f.Frequency)
	})

	t.Run("privilege zeroes the privilege axis", func(t *testing.T) {
		c := candidate(1, noon)
		c.Privileged = true
		_, f := Score(c, ctx)
		assert.Equal(t, 0.0, f.Privilege)
		c.Privileged = false
		_, f = Score(c, ctx)
		assert.Equal(t, 1.0, f.Privilege)
	})

	t.Run("unknown age is neutral", func(t *testing.T) {
		_, f := Score(candidate(1, noon), ctx)
		assert.Equal(t, 0.5, f.Age)
	})

	t.Run("age factor clamps above the cap", func(t *testing.T) {
		c := candidate(1, noon)
		age := 95
		c.Age = &age
		_, f := Score(c, ctx)
		assert.Equal(t, 0.0, f.Age)
	})

	t.Run("demographic factor is the fixed placeholder", func(t *testing.T) {
		_, f := Score(candidate(1, noon), ctx)
		assert.Equal(t, 0.5, f.Demographic)
	})

	t.Run("cooperation inverts and clamps the smoothed score", func(t *testing.T) {
		c := candidate(1, noon)
		c.Cooperativeness = 0.9
		_, f := Score(c, ctx)
		assert.InDelta(t, 0.1, f.Cooperation, 1e-9)

		c.Cooperativeness = 1.4
		_, f = Score(c, ctx)
		assert.Equal(t, 0.0, f.Cooperation)
	})
}

func TestDemandFactor_Windows(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		hour int
		want float64
	}{
		{7, 0.2},
		{8, 0.5},
		{9, 1.0},
		{11, 1.0},
		{12, 0.2},
		{16, 0.2},
		{17, 1.0},
		{19, 1.0},
		{20, 0.5},
		{21, 0.2},
		{23, 0.2},
	}
	for _, tc := range cases {
		got := demandFactor(day.Add(time.Duration(tc.hour) * time.Hour))
		assert.Equal(t, tc.want, got, "hour %d", tc.hour)
	}
}

func TestScore_IsPureAndOrderIndependent(t *testing.T) {
	cands := make([]Candidate, 0, 12)
	for i := int64(1); i <= 12; i++ {
		c := candidate(i, noon.Add(-time.Duration(i)*7*time.Minute))
		c.MonthlyVisits = int(i % 5)
		c.Privileged = i%3 == 0
		cands = append(cands, c)
	}

	first := Rank(cands, noon, DefaultBounds())
	again := Rank(cands, noon, DefaultBounds())
	require.Equal(t, first, again, "identical inputs must rank identically")

	scoreByID := make(map[int64]float64, len(first))
	for _, s := range first {
		scoreByID[s.OccupantID] = s.Score
	}

	shuffled := make([]Candidate, len(cands))
	copy(shuffled, cands)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		ranked := Rank(shuffled, noon, DefaultBounds())
		require.Equal(t, first, ranked, "permuting the input must not change the ranking")
		for _, s := range ranked {
			assert.Equal(t, scoreByID[s.OccupantID], s.Score)
		}
	}
}

func TestRank_NonIncreasingScores(t *testing.T) {
	cands := make([]Candidate, 0, 8)
	for i := int64(1); i <= 8; i++ {
		c := candidate(i, noon.Add(-time.Duration(i*13)*time.Minute))
		c.Cooperativeness = float64(i) / 10
		cands = append(cands, c)
	}
	ranked := Rank(cands, noon, DefaultBounds())
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

// A privileged early arrival must rank below a regular later arrival: the
// privilege axis alone moves the score by its full 0.08 weight.
func TestRank_PrivilegeShieldsEarlyArrival(t *testing.T) {
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	u := Candidate{OccupantID: 1, EntryTime: base, Deadline: base.Add(time.Hour), Seq: 1, Privileged: true, Cooperativeness: 0.5}
	v := Candidate{OccupantID: 2, EntryTime: base.Add(time.Minute), Deadline: base.Add(61 * time.Minute), Seq: 2, MonthlyVisits: 1, Cooperativeness: 0.5}

	ranked := Rank([]Candidate{u, v}, base.Add(2*time.Minute), DefaultBounds())
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(2), ranked[0].OccupantID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRank_TieBreaking(t *testing.T) {
	base := noon

	t.Run("equal scores fall back to FIFO", func(t *testing.T) {
		a := candidate(1, base)
		b := candidate(2, base.Add(30*time.Minute))
		// Same deadline, so only elapsed time and entry order differ: a's
		// extra 30 minutes inside (+0.05 on T) offsets b's later entry
		// rank (+0.05 on O), and the two scores tie.
		b.Deadline = a.Deadline
		ranked := Rank([]Candidate{b, a}, base.Add(40*time.Minute), DefaultBounds())
		require.Len(t, ranked, 2)
		assert.Equal(t, ranked[0].Score, ranked[1].Score)
		assert.Equal(t, int64(1), ranked[0].OccupantID, "earlier arrival wins the tie")
	})
}
