package builtin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegister_AllTypes(t *testing.T) {
	registry := worker.NewRegistry(discardLogger())
	Register(registry)

	types := registry.Types()
	assert.ElementsMatch(t, []string{"log", "sleep", "fail", "return", "output", "transform", "http-request"}, types)
}

func TestLogRunnable_RendersMessage(t *testing.T) {
	factory := NewLogFactory()

	runnable, err := factory.Create(map[string]any{"message": "order {{ trigger.id }} received"})
	require.NoError(t, err)

	outputs, err := runnable.Run(context.Background(), worker.RunContext{
		Variables: map[string]any{"trigger": map[string]any{"id": "42"}},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "order 42 received", outputs["message"])
	assert.Equal(t, "info", outputs["level"])
}

func TestLogFactory_RequiresMessage(t *testing.T) {
	_, err := NewLogFactory().Create(map[string]any{})
	assert.Error(t, err)
}

func TestSleepRunnable_HonorsCancellation(t *testing.T) {
	runnable, err := NewSleepFactory().Create(map[string]any{"duration": "5s"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = runnable.Run(ctx, worker.RunContext{}, discardLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepRunnable_SleepsDuration(t *testing.T) {
	runnable, err := NewSleepFactory().Create(map[string]any{"duration": "10ms"})
	require.NoError(t, err)

	start := time.Now()

	outputs, err := runnable.Run(context.Background(), worker.RunContext{}, discardLogger())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, "10ms", outputs["slept"])
}

func TestFailRunnable_FailsWithRenderedMessage(t *testing.T) {
	runnable, err := NewFailFactory().Create(map[string]any{"message": "boom in {{ flow.id }}"})
	require.NoError(t, err)

	_, err = runnable.Run(context.Background(), worker.RunContext{
		Variables: map[string]any{"flow": map[string]any{"id": "orders"}},
	}, discardLogger())
	require.Error(t, err)
	assert.Equal(t, "boom in orders", err.Error())
}

func TestReturnRunnable_RendersValue(t *testing.T) {
	runnable, err := NewReturnFactory().Create(map[string]any{"value": "{{ inputs.count + 1 }}"})
	require.NoError(t, err)

	outputs, err := runnable.Run(context.Background(), worker.RunContext{
		Variables: map[string]any{"inputs": map[string]any{"count": 4}},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, outputs["value"])
}

func TestReturnFactory_RequiresValue(t *testing.T) {
	_, err := NewReturnFactory().Create(map[string]any{})
	require.Error(t, err)
}

func TestOutputRunnable_RendersNativeValues(t *testing.T) {
	runnable, err := NewOutputFactory().Create(map[string]any{
		"values": map[string]any{
			"total":  "{{ outputs.sum.result * 2 }}",
			"static": 7,
			"name":   "report-{{ trigger.date }}",
		},
	})
	require.NoError(t, err)

	outputs, err := runnable.Run(context.Background(), worker.RunContext{
		Variables: map[string]any{
			"outputs": map[string]any{"sum": map[string]any{"result": 21}},
			"trigger": map[string]any{"date": "2026-08-29"},
		},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 42, outputs["total"])
	assert.Equal(t, 7, outputs["static"])
	assert.Equal(t, "report-2026-08-29", outputs["name"])
}

func TestTransformRunnable_EvaluatesExpression(t *testing.T) {
	runnable, err := NewTransformFactory().Create(map[string]any{
		"expression": "{{ map(items, # * 10) }}",
	})
	require.NoError(t, err)

	outputs, err := runnable.Run(context.Background(), worker.RunContext{
		Variables: map[string]any{"items": []any{1, 2, 3}},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []any{10, 20, 30}, outputs["result"])
}

func TestHTTPRequestRunnable_DecodesJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"id":"42"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	runnable, err := NewHTTPRequestFactory().Create(map[string]any{
		"method": "post",
		"url":    server.URL,
		"headers": map[string]any{
			"Authorization": "Bearer {{ secrets.token }}",
		},
		"body": `{"id":"{{ trigger.id }}"}`,
	})
	require.NoError(t, err)

	outputs, err := runnable.Run(context.Background(), worker.RunContext{
		Variables: map[string]any{
			"secrets": map[string]any{"token": "token-1"},
			"trigger": map[string]any{"id": "42"},
		},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outputs["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, outputs["body"])
}

func TestHTTPRequestRunnable_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	runnable, err := NewHTTPRequestFactory().Create(map[string]any{"url": server.URL})
	require.NoError(t, err)

	outputs, err := runnable.Run(context.Background(), worker.RunContext{}, discardLogger())
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, outputs["status_code"])
}
