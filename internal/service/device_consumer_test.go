package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
	"github.com/t77yq/glucose-alerts/internal/storage"
	"github.com/t77yq/glucose-alerts/internal/testutil"
)

func TestDeviceEventConsumer_Records(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, EnsureStreams(ctx, js, zap.NewNop()))

	events := storage.NewSQLiteDeviceEvents(zap.NewNop(), testutil.OpenSQLite(t))
	accept := func(e model.DeviceEvent) bool { return e.EventType != "sensor_stop" }
	consumer := NewDeviceEventConsumer(js, events, accept, ConsumerConfig{Backoff: fastBackoff}, zap.NewNop())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	at := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	require.NoError(t, PublishDeviceEvent(ctx, js, model.DeviceEvent{
		UserID: "user-1", Kind: model.DeviceKindSensor, EventType: "sensor_start", OccurredAt: at,
	}))
	require.NoError(t, PublishDeviceEvent(ctx, js, model.DeviceEvent{
		UserID: "user-1", Kind: model.DeviceKindSensor, EventType: "sensor_stop", OccurredAt: at.Add(time.Hour),
	}))

	var latest []model.DeviceEvent
	require.Eventually(t, func() bool {
		var err error
		latest, err = events.Latest(ctx, model.DeviceKindSensor)
		return err == nil && len(latest) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "sensor_start", latest[0].EventType)
	assert.True(t, at.Equal(latest[0].OccurredAt))
	assert.NotEmpty(t, latest[0].ID)

	// the filtered event is acked, not left pending
	require.Eventually(t, func() bool {
		info, err := js.ConsumerInfo(DevicesStream, deviceQueue)
		return err == nil && info.NumAckPending == 0 && info.Delivered.Consumer >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

type flakyRecorder struct {
	mu       sync.Mutex
	failures int
	calls    int
	recorded []model.DeviceEvent
}

func (r *flakyRecorder) Record(ctx context.Context, event model.DeviceEvent) (model.DeviceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return model.DeviceEvent{}, errors.New("database is locked")
	}
	r.recorded = append(r.recorded, event)
	return event, nil
}

func TestDeviceEventConsumer_RedeliversOnStoreFailure(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, EnsureStreams(ctx, js, zap.NewNop()))

	recorder := &flakyRecorder{failures: 2}
	consumer := NewDeviceEventConsumer(js, recorder, nil, ConsumerConfig{Backoff: fastBackoff}, zap.NewNop())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	require.NoError(t, PublishDeviceEvent(ctx, js, model.DeviceEvent{
		UserID: "user-1", Kind: model.DeviceKindCannula, EventType: "site_change", OccurredAt: time.Now(),
	}))

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.recorded) == 1
	}, 10*time.Second, 20*time.Millisecond)
	recorder.mu.Lock()
	assert.Equal(t, 3, recorder.calls)
	recorder.mu.Unlock()
}

func TestDecodeDeviceEvent(t *testing.T) {
	at := `"2026-03-04T08:00:00Z"`
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
		user    string
	}{
		{"user from subject", "device.event.user-1", `{"kind":"sensor","event_type":"sensor_start","occurred_at":` + at + `}`, false, "user-1"},
		{"matching user", "device.event.user-1", `{"user_id":"user-1","kind":"sensor","event_type":"sensor_start","occurred_at":` + at + `}`, false, "user-1"},
		{"mismatched user", "device.event.user-1", `{"user_id":"user-2","kind":"sensor","event_type":"sensor_start","occurred_at":` + at + `}`, true, ""},
		{"missing kind", "device.event.user-1", `{"event_type":"sensor_start","occurred_at":` + at + `}`, true, ""},
		{"missing time", "device.event.user-1", `{"kind":"sensor","event_type":"sensor_start"}`, true, ""},
		{"bad json", "device.event.user-1", `{`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeDeviceEvent(&nats.Msg{Subject: tt.subject, Data: []byte(tt.data)})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, event.UserID)
		})
	}
}
