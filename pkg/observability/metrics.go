package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/copilotz/pkg/domain"
)

// Metrics records turn activity as Prometheus collectors.
type Metrics struct {
	modelCalls      *prometheus.CounterVec
	modelTokens     prometheus.Counter
	modelDuration   prometheus.Histogram
	functionCalls   *prometheus.CounterVec
	functionLatency *prometheus.HistogramVec
	taskTransitions *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilotz_model_calls_total",
			Help: "Total number of chat model calls",
		}, []string{"outcome"}),
		modelTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copilotz_model_tokens_total",
			Help: "Tokens reported by the chat model",
		}),
		modelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copilotz_model_call_duration_seconds",
			Help:    "Duration of chat model calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		functionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilotz_function_calls_total",
			Help: "Total number of dispatched functions by status",
		}, []string{"function", "status"}),
		functionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "copilotz_function_duration_seconds",
			Help: "Duration of function executions",
		}, []string{"function"}),
		taskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilotz_task_transitions_total",
			Help: "Task transitions by control action and resulting status",
		}, []string{"action", "status"}),
		gatherer: gatherer,
	}

	var err error
	if m.modelCalls, err = register(reg, m.modelCalls); err != nil {
		return nil, err
	}
	if m.modelTokens, err = register(reg, m.modelTokens); err != nil {
		return nil, err
	}
	if m.modelDuration, err = register(reg, m.modelDuration); err != nil {
		return nil, err
	}
	if m.functionCalls, err = register(reg, m.functionCalls); err != nil {
		return nil, err
	}
	if m.functionLatency, err = register(reg, m.functionLatency); err != nil {
		return nil, err
	}
	if m.taskTransitions, err = register(reg, m.taskTransitions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnModelCall: func(_ context.Context, e *domain.ModelEvent) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.modelCalls.WithLabelValues(outcome).Inc()
			m.modelTokens.Add(float64(e.Tokens))
			m.modelDuration.Observe(e.Duration.Seconds())
		},
		OnFunctionReturn: func(_ context.Context, e *domain.FunctionEvent) {
			m.functionCalls.WithLabelValues(e.Name, string(e.Status)).Inc()
			m.functionLatency.WithLabelValues(e.Name).Observe(e.Duration.Seconds())
		},
		OnTaskTransition: func(_ context.Context, e *domain.TaskEvent) {
			status := ""
			if e.Task != nil {
				status = string(e.Task.Status)
			}
			m.taskTransitions.WithLabelValues(e.Action, status).Inc()
		},
	}
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
