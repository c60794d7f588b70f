package mesh

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

const (
	TopicVideoReady    = "video.ready"
	TopicVideoFailed   = "video.failed"
	TopicClipRendered  = "clip.rendered"
	TopicPostPublished = "post.published"
	TopicMemberJoined  = "member.joined"
)

type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

type Handler func(ctx context.Context, e Event)

type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(topic string, h Handler) (unsubscribe func(), err error)
	Close() error
}

// NewBusFromEnv returns a NATS-backed bus when REEL_NATS_URL is set (the
// binary must be built with the nats tag), otherwise an in-process bus.
func NewBusFromEnv() (Bus, error) {
	if url := os.Getenv("REEL_NATS_URL"); url != "" {
		return NewNatsBus(url)
	}
	return NewLocalBus(), nil
}

// PublishJSON marshals payload and publishes it on topic.
func PublishJSON(ctx context.Context, b Bus, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, Event{Topic: topic, Payload: raw})
}
