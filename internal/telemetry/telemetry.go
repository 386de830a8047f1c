// Package telemetry tracks in-process run, step and LLM usage metrics for a
// diagnostic service instance.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/aura-dx/aura/config"
	"github.com/aura-dx/aura/internal/llm"
)

// costPer1KTokens maps model names to a blended USD price per 1K tokens,
// used for rough cost attribution. Unknown models use defaultCostPer1K.
var costPer1KTokens = map[string]float64{
	"gpt-4o":      0.0075,
	"gpt-4o-mini": 0.000375,
}

const defaultCostPer1K = 0.002

// Collector accumulates metrics. It satisfies the pipeline's Stats interface
// and the LLM token sink.
type Collector struct {
	cfg    config.TelemetryConfig
	logger *log.Logger

	mu sync.RWMutex

	totalRuns      int64
	failedRuns     int64
	totalRunTime   time.Duration
	stepExecutions map[string]int64
	stepFailures   map[string]int64
	stepTotalTime  map[string]time.Duration

	llmRequests map[string]int64
	llmTokens   map[string]int64
	totalTokens int64
	totalCost   float64
}

func NewCollector(cfg config.TelemetryConfig) *Collector {
	return &Collector{
		cfg:            cfg,
		logger:         log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		stepExecutions: make(map[string]int64),
		stepFailures:   make(map[string]int64),
		stepTotalTime:  make(map[string]time.Duration),
		llmRequests:    make(map[string]int64),
		llmTokens:      make(map[string]int64),
	}
}

// RunObserved records one finished run.
func (c *Collector) RunObserved(elapsed time.Duration, fatal bool) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRuns++
	if fatal {
		c.failedRuns++
	}
	c.totalRunTime += elapsed
}

// StepObserved records one step execution.
func (c *Collector) StepObserved(step string, elapsed time.Duration, failed bool) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepExecutions[step]++
	if failed {
		c.stepFailures[step]++
	}
	c.stepTotalTime[step] += elapsed
}

// AddTokens records LLM token usage and attributes an estimated cost.
func (c *Collector) AddTokens(model string, usage llm.Usage) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmRequests[model]++
	c.llmTokens[model] += int64(usage.TotalTokens)
	c.totalTokens += int64(usage.TotalTokens)
	if c.cfg.CostTracking {
		price, ok := costPer1KTokens[model]
		if !ok {
			price = defaultCostPer1K
		}
		c.totalCost += float64(usage.TotalTokens) / 1000 * price
	}
}

// StepStats is the per-step slice of a snapshot.
type StepStats struct {
	Executions  int64         `json:"executions"`
	Failures    int64         `json:"failures"`
	AverageTime time.Duration `json:"average_time"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	TotalRuns      int64                `json:"total_runs"`
	FailedRuns     int64                `json:"failed_runs"`
	AverageRunTime time.Duration        `json:"average_run_time"`
	Steps          map[string]StepStats `json:"steps"`
	LLMRequests    map[string]int64     `json:"llm_requests"`
	LLMTokens      map[string]int64     `json:"llm_tokens"`
	TotalTokens    int64                `json:"total_tokens"`
	TotalCost      float64              `json:"total_cost"`
}

// GetSnapshot returns a copy of the current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		TotalRuns:   c.totalRuns,
		FailedRuns:  c.failedRuns,
		Steps:       make(map[string]StepStats, len(c.stepExecutions)),
		LLMRequests: make(map[string]int64, len(c.llmRequests)),
		LLMTokens:   make(map[string]int64, len(c.llmTokens)),
		TotalTokens: c.totalTokens,
		TotalCost:   c.totalCost,
	}
	if c.totalRuns > 0 {
		snap.AverageRunTime = c.totalRunTime / time.Duration(c.totalRuns)
	}
	for step, n := range c.stepExecutions {
		st := StepStats{Executions: n, Failures: c.stepFailures[step]}
		if n > 0 {
			st.AverageTime = c.stepTotalTime[step] / time.Duration(n)
		}
		snap.Steps[step] = st
	}
	for m, n := range c.llmRequests {
		snap.LLMRequests[m] = n
	}
	for m, n := range c.llmTokens {
		snap.LLMTokens[m] = n
	}
	return snap
}
