package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/storyforge/api/internal/services"
)

// PubSubGenerationPublisher publishes book generation jobs to a Pub/Sub topic.
type PubSubGenerationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubGenerationPublisher constructs a Pub/Sub backed generation job publisher.
func NewPubSubGenerationPublisher(topic *pubsub.Topic) (*PubSubGenerationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub generation publisher: topic is required")
	}
	return &PubSubGenerationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishGenerationJob enqueues a generation job message on the configured topic.
func (p *PubSubGenerationPublisher) PublishGenerationJob(ctx context.Context, message services.GenerationJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub generation publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal generation job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "bookId", message.BookID)
	setAttr(attrs, "userId", message.UserID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish generation job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
