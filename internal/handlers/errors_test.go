package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"screentime/internal/conflict"
	"screentime/internal/permission"
	"screentime/internal/service"
)

func TestRespondWithErrorWritesStatusAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)

	respondWithError(c, zap.NewNop(), 418, "Teapot", "", nil)

	assert.Equal(t, 418, recorder.Code)
	assert.JSONEq(t, `{"error":"Teapot"}`, recorder.Body.String())
	assert.True(t, c.IsAborted())
}

func TestRespondWithErrorLogsMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.WarnLevel)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)

	respondWithError(c, zap.New(core), 500, MsgInternalServerError, "", errors.New("boom"))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, MsgInternalServerError, entries[0].Message)
		assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: permission.ErrUnauthorized, want: http.StatusForbidden},
		{err: fmt.Errorf("failed to update child: %w", permission.ErrUnauthorized), want: http.StatusForbidden},
		{err: permission.ErrFamilyNotFound, want: http.StatusNotFound},
		{err: conflict.ErrConflictNotFound, want: http.StatusNotFound},
		{err: service.ErrRecordNotFound, want: http.StatusNotFound},
		{err: conflict.ErrInvalidChoice, want: http.StatusBadRequest},
		{err: service.ErrInsufficientPoints, want: http.StatusBadRequest},
		{err: service.ErrOwnerImmutable, want: http.StatusBadRequest},
		{err: errors.New("database is locked"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := statusFor(tt.err)
			assert.Equal(t, tt.want, status)
			if status == http.StatusInternalServerError {
				assert.Equal(t, MsgInternalServerError, msg)
			}
		})
	}
}

func TestRateLimiterRefillsAfterWindow(t *testing.T) {
	now := time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("device-a"))
	assert.False(t, rl.Allow("device-a"))
	assert.True(t, rl.Allow("device-b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("device-a"))

	now = now.Add(3 * time.Minute)
	rl.cleanup()
	assert.Equal(t, 0, rl.Visitors())
}
