package errorhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/pkg/logger"
)

func TestHandleErrorHidesCause(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background(), &l)

	rec := httptest.NewRecorder()
	HandleError(ctx, rec, http.StatusInternalServerError, "LEDGER_LIST_FAILED", "Failed to list ledger entries", errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "LEDGER_LIST_FAILED", body.Error.Code)

	assert.Contains(t, buf.String(), "connection refused")
	assert.Contains(t, buf.String(), `"status_code":500`)
}

func TestLogHelpersUseRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := logger.WithRequestID(logger.WithContext(context.Background(), &l), "req-1")

	LogExternalServiceError(ctx, "polar", "create_checkout", errors.New("timeout"))
	LogValidationError(ctx, map[string]string{"status": "invalid"})

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"external_service":"polar"`)
	assert.Contains(t, out, `"validation_errors":{"status":"invalid"}`)
}
