// Package forecast implements an online additive Holt-Winters model with an
// exogenous net-rate regressor. The model samples occupancy at one-minute
// granularity and answers k-minute-ahead forecast queries.
package forecast

import (
	"math"
	"sync"
	"time"
)

// Config carries the smoothing constants and window sizes.
type Config struct {
	Alpha        float64 // level
	Gamma        float64 // trend
	Delta        float64 // seasonal
	Eta          float64 // exogenous weight learning rate
	SeasonLength int     // slots per seasonal cycle
	Window       int     // retained observations for outlier statistics
}

// DefaultConfig returns the standard smoothing constants: a one-hour
// seasonal cycle indexed by minute-of-hour and a 500-observation window.
func DefaultConfig() Config {
	return Config{Alpha: 0.3, Gamma: 0.1, Delta: 0.3, Eta: 0.01, SeasonLength: 60, Window: 500}
}

// Observation is one occupancy sample.
type Observation struct {
	At        time.Time
	Occupancy float64
	EntryRate float64
	ExitRate  float64
	Capacity  float64
}

// NetRate is entries minus exits over the sampling window.
func (o Observation) NetRate() float64 { return o.EntryRate - o.ExitRate }

// Point is one step of a forecast.
type Point struct {
	Minute     int     `json:"minute"`
	Occupancy  int     `json:"occupancy"`
	Confidence float64 `json:"confidence"`
}

// State is a read-only snapshot of the model internals, exposed for
// diagnostics.
type State struct {
	Level       float64 `json:"level"`
	Trend       float64 `json:"trend"`
	Beta        float64 `json:"beta"`
	Initialized bool    `json:"initialized"`
	Retained    int     `json:"retained"`
	LastNetRate float64 `json:"last_net_rate"`
}

// Model is the Holt-Winters forecaster. It owns its mutex and is never
// called while the engine's space lock is held.
type Model struct {
	mu  sync.Mutex
	cfg Config

	level    float64
	trend    float64
	seasonal []float64
	beta     float64

	recent      []float64 // clipped observations, newest last, capped at cfg.Window
	lastNetRate float64
	initialized bool

	// Sub-minute observations collapse to the latest within the bucket;
	// the bucket commits when a later one opens.
	pending       *Observation
	pendingBucket time.Time
}

// New returns an empty model with the given configuration.
func New(cfg Config) *Model {
	if cfg.SeasonLength <= 0 {
		cfg.SeasonLength = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = 500
	}
	return &Model{cfg: cfg, seasonal: make([]float64, cfg.SeasonLength)}
}

// Observe records one sample. Samples within the same minute replace each
// other; the surviving one is applied when the next minute opens.
func (m *Model) Observe(o Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := o.At.Truncate(time.Minute)
	if m.pending != nil && bucket.After(m.pendingBucket) {
		m.apply(*m.pending)
	}
	obs := o
	m.pending = &obs
	m.pendingBucket = bucket
}

// Warmup cold-starts the model from a batch of historical observations:
// level from the mean of the first ten, trend from the overall slope,
// seasonal slots from the mean deviation at each index, then a full replay
// through the update rule.
func (m *Model) Warmup(batch []Observation) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	head := len(batch)
	if head > 10 {
		head = 10
	}
	var sum float64
	for _, o := range batch[:head] {
		sum += o.Occupancy
	}
	m.level = sum / float64(head)
	m.trend = (batch[len(batch)-1].Occupancy - batch[0].Occupancy) / float64(len(batch))

	counts := make([]int, m.cfg.SeasonLength)
	sums := make([]float64, m.cfg.SeasonLength)
	for _, o := range batch {
		i := m.seasonIndex(o.At)
		sums[i] += o.Occupancy - m.level
		counts[i]++
	}
	for i := range m.seasonal {
		if counts[i] > 0 {
			m.seasonal[i] = sums[i] / float64(counts[i])
		} else {
			m.seasonal[i] = 0
		}
	}
	m.beta = 0
	m.recent = m.recent[:0]
	m.pending = nil
	m.initialized = true

	for _, o := range batch {
		m.apply(o)
	}
}

// Forecast returns k one-minute steps ahead of now, each clamped to
// [0, capacity] and rounded to the nearest integer. Confidence depends on
// the step index only.
func (m *Model) Forecast(now time.Time, k int, capacity float64) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k < 1 {
		k = 1
	}
	if k > 60 {
		k = 60
	}
	points := make([]Point, 0, k)
	for j := 1; j <= k; j++ {
		at := now.Add(time.Duration(j) * time.Minute)
		raw := m.level + float64(j)*m.trend + m.seasonal[m.seasonIndex(at)] + m.beta*m.lastNetRate
		clamped := math.Max(0, math.Min(capacity, raw))
		points = append(points, Point{
			Minute:     j,
			Occupancy:  int(math.Round(clamped)),
			Confidence: math.Max(0.1, math.Exp(-float64(j)/30)),
		})
	}
	return points
}

// LastNetRate returns the net rate of the most recently applied sample.
func (m *Model) LastNetRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastNetRate
}

// State snapshots the model internals.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Level:       m.level,
		Trend:       m.trend,
		Beta:        m.beta,
		Initialized: m.initialized,
		Retained:    len(m.recent),
		LastNetRate: m.lastNetRate,
	}
}

// apply runs one observation through clipping and the update equations.
// Caller holds m.mu.
func (m *Model) apply(o Observation) {
	y := m.clip(o.Occupancy, o.Capacity)
	x := o.NetRate()
	i := m.seasonIndex(o.At)

	if !m.initialized {
		m.level = y
		m.initialized = true
		m.retain(y)
		m.lastNetRate = x
		return
	}

	prevLevel := m.level
	predicted := m.level + m.trend + m.seasonal[i] + m.beta*x
	err := y - predicted

	m.level = m.cfg.Alpha*(y-m.seasonal[i]-m.beta*x) + (1-m.cfg.Alpha)*(prevLevel+m.trend)
	m.trend = m.cfg.Gamma*(m.level-prevLevel) + (1-m.cfg.Gamma)*m.trend
	m.seasonal[i] = m.cfg.Delta*(y-m.level-m.beta*x) + (1-m.cfg.Delta)*m.seasonal[i]
	m.beta = math.Max(0, math.Min(1, m.beta+m.cfg.Eta*err*x))

	m.retain(y)
	m.lastNetRate = x
}

// clip bounds an incoming occupancy to [0, capacity], tightening to the
// 3-sigma band once at least ten observations are retained.
func (m *Model) clip(y, capacity float64) float64 {
	lo, hi := 0.0, capacity
	if len(m.recent) >= 10 {
		mean, std := m.stats()
		lo = math.Max(lo, mean-3*std)
		hi = math.Min(hi, mean+3*std)
	}
	return math.Max(lo, math.Min(hi, y))
}

func (m *Model) retain(y float64) {
	m.recent = append(m.recent, y)
	if len(m.recent) > m.cfg.Window {
		m.recent = m.recent[len(m.recent)-m.cfg.Window:]
	}
}

func (m *Model) stats() (mean, std float64) {
	n := float64(len(m.recent))
	var sum float64
	for _, v := range m.recent {
		sum += v
	}
	mean = sum / n
	var sq float64
	for _, v := range m.recent {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

func (m *Model) seasonIndex(t time.Time) int {
	return t.Minute() % m.cfg.SeasonLength
}
