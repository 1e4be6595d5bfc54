package invoke

import (
	"fmt"
	"sync"
	"time"

	"github.com/dshills/agentgraph/graph/model"
)

// SpendRecord is a single billed model call.
type SpendRecord struct {
	Model     string
	NodeID    string
	Usage     model.Usage
	CostUSD   float64
	Timestamp time.Time
}

// SpendTracker accumulates USD spend for one run.
//
// A tracker is created per run and passed to the executor; it is never shared
// between runs or tenants. All methods are safe for concurrent use.
//
//	spend := invoke.NewSpendTracker(runID)
//	exec := invoke.NewExecutor(resolver, invoke.WithSpendTracker(spend))
//	...
//	fmt.Printf("run cost: $%.4f\n", spend.Total())
type SpendTracker struct {
	RunID string

	mu         sync.RWMutex
	records    []SpendRecord
	total      float64
	modelCosts map[string]float64
	usage      model.Usage
}

// NewSpendTracker creates an empty tracker for a run.
func NewSpendTracker(runID string) *SpendTracker {
	return &SpendTracker{
		RunID:      runID,
		records:    make([]SpendRecord, 0, 16),
		modelCosts: make(map[string]float64),
	}
}

// Record adds a billed call.
func (s *SpendTracker) Record(rec SpendRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	s.total += rec.CostUSD
	s.modelCosts[rec.Model] += rec.CostUSD
	s.usage = s.usage.Add(rec.Usage)
}

// Total returns the cumulative spend in USD.
func (s *SpendTracker) Total() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// CostByModel returns a copy of the per-model spend breakdown.
func (s *SpendTracker) CostByModel() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	costs := make(map[string]float64, len(s.modelCosts))
	for m, c := range s.modelCosts {
		costs[m] = c
	}
	return costs
}

// Records returns a copy of all records in the order they were added.
func (s *SpendTracker) Records() []SpendRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SpendRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Usage returns total token usage.
func (s *SpendTracker) Usage() model.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

// String implements fmt.Stringer for log lines.
func (s *SpendTracker) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fmt.Sprintf("SpendTracker{RunID: %s, Calls: %d, Total: $%.4f, InputTokens: %d, OutputTokens: %d}",
		s.RunID, len(s.records), s.total, s.usage.InputTokens, s.usage.OutputTokens)
}
