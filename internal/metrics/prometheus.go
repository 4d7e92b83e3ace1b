package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ghillie"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	ingestionRuns     *prom.CounterVec
	eventsIngested    prom.Counter
	ingestionDuration *prom.HistogramVec
	transformOutcomes *prom.CounterVec
	reportAttempts    *prom.CounterVec
	reportDuration    *prom.HistogramVec
	promptTokens      prom.Counter
	completionTokens  prom.Counter
	queueDepth        prom.Gauge
	stalledRepos      prom.Gauge
}

// NewPrometheusRecorder constructs and registers the pipeline metrics on the
// given registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		ingestionRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_runs_total",
			Help:      "Ingestion runs by result",
		}, []string{"result"}),
		eventsIngested: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_events_total",
			Help:      "Raw events written by ingestion",
		}),
		ingestionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Duration of per-repository ingestion runs",
			Buckets:   prom.DefBuckets,
		}, []string{"repo"}),
		transformOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transform_outcomes_total",
			Help:      "Raw event transformation outcomes",
		}, []string{"outcome"}),
		reportAttempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "report_attempts_total",
			Help:      "Report generation attempts by scope and result",
		}, []string{"scope", "result"}),
		reportDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "End-to-end report generation duration",
			Buckets:   prom.DefBuckets,
		}, []string{"scope"}),
		promptTokens: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "report_prompt_tokens_total",
			Help:      "Prompt tokens consumed by the status model",
		}),
		completionTokens: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "report_completion_tokens_total",
			Help:      "Completion tokens produced by the status model",
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "report_queue_depth",
			Help:      "Jobs waiting in the report queue",
		}),
		stalledRepos: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "stalled_repositories",
			Help:      "Repositories without a successful ingestion inside the staleness threshold",
		}),
	}
	reg.MustRegister(pr.ingestionRuns, pr.eventsIngested, pr.ingestionDuration,
		pr.transformOutcomes, pr.reportAttempts, pr.reportDuration,
		pr.promptTokens, pr.completionTokens, pr.queueDepth, pr.stalledRepos)
	return pr
}

func (p *PrometheusRecorder) IncIngestionRun(result ResultLabel) {
	if p == nil || p.ingestionRuns == nil {
		return
	}
	p.ingestionRuns.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) AddEventsIngested(n int) {
	if p == nil || p.eventsIngested == nil || n <= 0 {
		return
	}
	p.eventsIngested.Add(float64(n))
}

func (p *PrometheusRecorder) ObserveIngestionDuration(repo string, d time.Duration) {
	if p == nil || p.ingestionDuration == nil {
		return
	}
	p.ingestionDuration.WithLabelValues(repo).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTransformOutcome(outcome string) {
	if p == nil || p.transformOutcomes == nil {
		return
	}
	p.transformOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncReportAttempt(scope string, result ResultLabel) {
	if p == nil || p.reportAttempts == nil {
		return
	}
	p.reportAttempts.WithLabelValues(scope, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveReportDuration(scope string, d time.Duration) {
	if p == nil || p.reportDuration == nil {
		return
	}
	p.reportDuration.WithLabelValues(scope).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddReportTokens(promptTokens, completionTokens int) {
	if p == nil {
		return
	}
	if p.promptTokens != nil && promptTokens > 0 {
		p.promptTokens.Add(float64(promptTokens))
	}
	if p.completionTokens != nil && completionTokens > 0 {
		p.completionTokens.Add(float64(completionTokens))
	}
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetStalledRepositories(n int) {
	if p == nil || p.stalledRepos == nil {
		return
	}
	p.stalledRepos.Set(float64(n))
}

// HTTPHandler serves the Prometheus exposition format for the registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
