package reporting

import (
	"context"
	"math"
	"slices"
	"time"

	"git.home.luguber.info/inful/ghillie/internal/gold"
)

// MetricsSnapshot aggregates model cost over the reports generated in a
// period. Avg and p95 are nil when no report in the period carried a
// latency; token totals skip null fields the same way.
type MetricsSnapshot struct {
	ReportCount           int      `json:"report_count"`
	AvgLatencyMS          *float64 `json:"avg_latency_ms"`
	P95LatencyMS          *int64   `json:"p95_latency_ms"`
	TotalPromptTokens     int64    `json:"total_prompt_tokens"`
	TotalCompletionTokens int64    `json:"total_completion_tokens"`
	TotalTokens           int64    `json:"total_tokens"`
}

// Snapshot aggregates report metrics for [periodStart, periodEnd), optionally
// restricted to one scope (empty scope means all). The p95 is computed
// in-process over the sorted latencies at index ceil(0.95*n)-1, keeping the
// result identical across database backends.
func (s *Service) Snapshot(ctx context.Context, periodStart, periodEnd time.Time, scope gold.Scope) (*MetricsSnapshot, error) {
	rows, err := s.reports.ListReportMetrics(ctx, periodStart, periodEnd, scope)
	if err != nil {
		return nil, err
	}

	snap := &MetricsSnapshot{ReportCount: len(rows)}
	var latencies []int64
	var latencySum int64
	for _, row := range rows {
		if row.LatencyMS != nil {
			latencies = append(latencies, *row.LatencyMS)
			latencySum += *row.LatencyMS
		}
		if row.PromptTokens != nil {
			snap.TotalPromptTokens += *row.PromptTokens
		}
		if row.CompletionTokens != nil {
			snap.TotalCompletionTokens += *row.CompletionTokens
		}
		if row.TotalTokens != nil {
			snap.TotalTokens += *row.TotalTokens
		}
	}

	if len(latencies) > 0 {
		slices.Sort(latencies)
		avg := float64(latencySum) / float64(len(latencies))
		snap.AvgLatencyMS = &avg
		p95 := latencies[int(math.Ceil(0.95*float64(len(latencies))))-1]
		snap.P95LatencyMS = &p95
	}
	return snap, nil
}
