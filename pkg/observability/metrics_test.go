package observability_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/observability"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	hooks := m.Hooks()
	ctx := context.Background()
	hooks.OnModelCall(ctx, &domain.ModelEvent{Tokens: 12, Duration: time.Second})
	hooks.OnModelCall(ctx, &domain.ModelEvent{Err: errors.New("down")})
	hooks.OnFunctionReturn(ctx, &domain.FunctionEvent{Name: "echo", Status: domain.FunctionOK, Duration: time.Millisecond})
	hooks.OnFunctionReturn(ctx, &domain.FunctionEvent{Name: "echo", Status: domain.FunctionFailed})
	hooks.OnTaskTransition(ctx, &domain.TaskEvent{Action: "submit", Task: &domain.Task{Status: domain.TaskCompleted}})

	expected := `
# HELP copilotz_model_calls_total Total number of chat model calls
# TYPE copilotz_model_calls_total counter
copilotz_model_calls_total{outcome="error"} 1
copilotz_model_calls_total{outcome="ok"} 1
# HELP copilotz_model_tokens_total Tokens reported by the chat model
# TYPE copilotz_model_tokens_total counter
copilotz_model_tokens_total 12
# HELP copilotz_function_calls_total Total number of dispatched functions by status
# TYPE copilotz_function_calls_total counter
copilotz_function_calls_total{function="echo",status="failed"} 1
copilotz_function_calls_total{function="echo",status="ok"} 1
# HELP copilotz_task_transitions_total Task transitions by control action and resulting status
# TYPE copilotz_task_transitions_total counter
copilotz_task_transitions_total{action="submit",status="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"copilotz_model_calls_total",
		"copilotz_model_tokens_total",
		"copilotz_function_calls_total",
		"copilotz_task_transitions_total",
	))
	n, err := testutil.GatherAndCount(reg, "copilotz_model_call_duration_seconds", "copilotz_function_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	again, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	again.Hooks().OnModelCall(context.Background(), &domain.ModelEvent{Tokens: 5})
	n, err := testutil.GatherAndCount(reg, "copilotz_model_tokens_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_Handler(t *testing.T) {
	m, err := observability.NewMetrics(nil)
	require.NoError(t, err)
	m.Hooks().OnModelCall(context.Background(), &domain.ModelEvent{Tokens: 3})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "copilotz_model_tokens_total 3")
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hooks := observability.LoggingHooks(logger)
	ctx := context.Background()
	hooks.OnFunctionCall(ctx, &domain.FunctionEvent{EventBase: domain.EventBase{ThreadID: "t1"}, Name: "echo"})
	hooks.OnFunctionReturn(ctx, &domain.FunctionEvent{Name: "echo", Status: domain.FunctionFailed, Results: "boom"})
	hooks.OnTaskTransition(ctx, &domain.TaskEvent{Action: "cancelTask", Task: &domain.Task{ID: "x", Status: domain.TaskCancelled}})

	out := buf.String()
	assert.Contains(t, out, `msg="Function Call" thread_id=t1 name=echo`)
	assert.Contains(t, out, `msg="Function Return (Error)"`)
	assert.Contains(t, out, "status=cancelled")
}
