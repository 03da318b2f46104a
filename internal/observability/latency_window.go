package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Latency stages recorded by the coaching engine.
const (
	StageFinalizeToEmit = "finalize_to_emit"
	StageGeneration     = "generation"
	StageInterim        = "finalize_to_interim"
)

// stageBudgetsMS are the p95 budgets reported next to each stage.
var stageBudgetsMS = map[string]float64{
	StageInterim:        1000,
	StageGeneration:     1500,
	StageFinalizeToEmit: 2000,
}

// StageLatency summarises the recent samples of one stage.
type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_p95_ms,omitempty"`
	OverBudget bool    `json:"over_budget,omitempty"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      int            `json:"window"`
	Stages      []StageLatency `json:"stages"`
}

// LatencyWindow keeps the newest samples per stage so /v1/perf/latency can
// answer with exact recent percentiles.
type LatencyWindow struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{size: size, samples: make(map[string][]float64)}
}

// Observe records one sample in milliseconds. The oldest sample of the stage
// is evicted once the window is full.
func (w *LatencyWindow) Observe(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	list := append(w.samples[stage], ms)
	if len(list) > w.size {
		list = list[len(list)-w.size:]
	}
	w.samples[stage] = list
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	if w == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{GeneratedAt: time.Now().UTC(), Window: w.size, Stages: []StageLatency{}}
	for stage, list := range w.samples {
		if len(list) == 0 {
			continue
		}
		sorted := append([]float64(nil), list...)
		sort.Float64s(sorted)
		st := StageLatency{
			Stage:    stage,
			Samples:  len(sorted),
			LastMS:   list[len(list)-1],
			P50MS:    nearestRank(sorted, 0.50),
			P95MS:    nearestRank(sorted, 0.95),
			MaxMS:    sorted[len(sorted)-1],
			BudgetMS: stageBudgetsMS[stage],
		}
		st.OverBudget = st.BudgetMS > 0 && st.P95MS > st.BudgetMS
		snap.Stages = append(snap.Stages, st)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })
	return snap
}

// nearestRank returns the smallest sample with at least q of the samples at
// or below it.
func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
