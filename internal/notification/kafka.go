package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/aqi-monitor/internal/protocol"
)

// Publisher is the part of queue.Producer the Kafka sink needs
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaSink hands messages to the notifications topic. A confirmed
// write counts as delivery; cmd/notifier relays them to the final transport.
type KafkaSink struct {
	publisher Publisher
	now       func() time.Time
}

// NewKafkaSink creates a sink over publisher
func NewKafkaSink(publisher Publisher) *KafkaSink {
	return &KafkaSink{publisher: publisher, now: time.Now}
}

func (k *KafkaSink) Deliver(ctx context.Context, msg Message) error {
	n := &protocol.Notification{
		ID:        uuid.NewString(),
		Kind:      msg.Kind,
		Location:  msg.Location,
		Text:      msg.Text,
		CreatedAt: k.now().UTC(),
	}

	data, err := protocol.EncodeNotification(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	key := msg.Location
	if key == "" {
		key = msg.Kind
	}
	return k.publisher.Publish(ctx, key, data)
}
