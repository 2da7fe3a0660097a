package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/models"
)

func newCriticalAlert() *models.Alert {
	return &models.Alert{
		AlertID:    "a-1",
		DeviceID:   "dev-001",
		ReadingID:  "r-1",
		SensorType: models.SensorHeartRate,
		Level:      models.LevelCritical,
		Message:    "heart_rate critical",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestNotifyCriticalAlert(t *testing.T) {
	var received notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.NotifierConfig{
		Enabled:    true,
		WebhookURL: server.URL,
		Timeout:    time.Second,
	}, zap.NewNop())

	err := n.NotifyCriticalAlert(context.Background(), newCriticalAlert())
	require.NoError(t, err)
	assert.Equal(t, "a-1", received.AlertID)
	assert.Equal(t, "critical", received.Level)
	assert.Equal(t, "heart_rate", received.SensorType)
}

func TestNotifyCriticalAlert_SkipsNonCritical(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.NotifierConfig{
		Enabled:    true,
		WebhookURL: server.URL,
		Timeout:    time.Second,
	}, zap.NewNop())

	alert := newCriticalAlert()
	alert.Level = models.LevelWarning
	require.NoError(t, n.NotifyCriticalAlert(context.Background(), alert))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestNotifyCriticalAlert_Disabled(t *testing.T) {
	n := NewWebhookNotifier(&config.NotifierConfig{
		Enabled: false,
		Timeout: time.Second,
	}, zap.NewNop())

	assert.NoError(t, n.NotifyCriticalAlert(context.Background(), newCriticalAlert()))
}

func TestNotifyCriticalAlert_RetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.NotifierConfig{
		Enabled:    true,
		WebhookURL: server.URL,
		Timeout:    time.Second,
		RetryCount: 2,
	}, zap.NewNop())

	err := n.NotifyCriticalAlert(context.Background(), newCriticalAlert())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifyCriticalAlert_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.NotifierConfig{
		Enabled:    true,
		WebhookURL: server.URL,
		Timeout:    time.Second,
	}, zap.NewNop())

	err := n.NotifyCriticalAlert(context.Background(), newCriticalAlert())
	assert.Error(t, err)
}
