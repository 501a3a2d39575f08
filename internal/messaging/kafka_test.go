package messaging

import (
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

func TestEngagementEvent_Serialization(t *testing.T) {
	event := EngagementEvent{
		EventID:      "ev-1",
		SessionID:    "sess-1",
		UserID:       "u1",
		EpisodeID:    "ep-1",
		Kind:         models.EngagementBookmark,
		EpisodeTitle: "Deep Dive",
		SeriesName:   "Signals",
		OccurredAt:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded EngagementEvent
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, event.EventID, decoded.EventID)
	assert.Equal(t, event.SessionID, decoded.SessionID)
	assert.Equal(t, event.Kind, decoded.Kind)
	assert.True(t, event.OccurredAt.Equal(decoded.OccurredAt))
}

func TestBuildMessage(t *testing.T) {
	t.Run("keys by session and carries headers", func(t *testing.T) {
		event := EngagementEvent{
			EventID:    "ev-1",
			SessionID:  "sess-1",
			EpisodeID:  "ep-1",
			Kind:       models.EngagementClick,
			OccurredAt: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		}

		message, err := buildMessage(&event)
		require.NoError(t, err)

		assert.Equal(t, "sess-1", string(message.Key))

		headers := make(map[string]string, len(message.Headers))
		for _, h := range message.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "ev-1", headers["event_id"])
		assert.Equal(t, "click", headers["kind"])
		assert.Equal(t, "2025-06-15T12:00:00Z", headers["occurred_at"])

		var decoded EngagementEvent
		require.NoError(t, json.Unmarshal(message.Value, &decoded))
		assert.Equal(t, "ep-1", decoded.EpisodeID)
	})

	t.Run("fills event id and timestamp defaults", func(t *testing.T) {
		event := EngagementEvent{
			SessionID: "sess-1",
			EpisodeID: "ep-1",
			Kind:      models.EngagementListen,
		}

		_, err := buildMessage(&event)
		require.NoError(t, err)

		assert.NotEmpty(t, event.EventID)
		assert.False(t, event.OccurredAt.IsZero())
	})
}

type capturingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *capturingSink) Event(name string, _ logrus.Fields) {
	s.mu.Lock()
	s.events = append(s.events, name)
	s.mu.Unlock()
}

func TestEngagementPublisher_DeliveryFailureTelemetry(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	sink := &capturingSink{}
	publisher := &EngagementPublisher{logger: logger, sink: sink}

	publisher.onDelivery([]kafka.Message{
		{Key: []byte("sess-1")},
		{Key: []byte("sess-2")},
	}, assert.AnError)

	require.Len(t, sink.events, 2)
	assert.Equal(t, telemetry.EventEngagementPublishFailed, sink.events[0])

	// Successful deliveries stay quiet.
	publisher.onDelivery([]kafka.Message{{Key: []byte("sess-3")}}, nil)
	assert.Len(t, sink.events, 2)
}
