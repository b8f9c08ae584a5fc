package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/plate-market/api/internal/services"
)

// EventPlateImageRegenerated is the eventType attribute on regeneration messages.
const EventPlateImageRegenerated = "plate.image.regenerated"

// PubSubRegenerationPublisher announces regenerated plate images on a topic
// so CDN purgers and listing indexers can react.
type PubSubRegenerationPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubRegenerationPublisher(topic *pubsub.Topic) (*PubSubRegenerationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub regeneration publisher: topic is required")
	}
	return &PubSubRegenerationPublisher{topic: topic}, nil
}

// PublishRegenerated blocks until the server acknowledges the message.
func (p *PubSubRegenerationPublisher) PublishRegenerated(ctx context.Context, event services.PlateRegeneratedEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal regeneration event: %w", err)
	}
	attrs := map[string]string{
		"eventType": EventPlateImageRegenerated,
		"plateId":   event.PlateID,
		"runId":     event.RunID,
		"version":   strconv.Itoa(event.Version),
	}
	if event.Emirate != "" {
		attrs["emirate"] = event.Emirate
	}

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish regeneration event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubRegenerationPublisher) Stop() {
	p.topic.Stop()
}
