package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_BeforeInitIsNoop(t *testing.T) {
	ctx := context.Background()
	RecordTaskOp(ctx, "create", "pending")
	RecordIngest(ctx, "slack", "urgent", true, false)
	RecordDispatchFailure(ctx, "discord")
	RecordClassifierDuration(ctx, 0.2, false)
}

func TestInitAndServe(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "metrics-test")
	require.NoError(t, err)
	require.NoError(t, Init())
	require.NoError(t, Init())

	RecordTaskOp(ctx, "pop", "in_progress")
	RecordIngest(ctx, "email", "critical", true, false)
	RecordDispatchFailure(ctx, "discord")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "deepflow_task_operations_total")
	assert.Contains(t, string(body), "deepflow_ingested_messages_total")
}
