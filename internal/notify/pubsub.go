package notify

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

// Publisher publishes one message and waits for its server ID.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

// PubSub delivers notifications as Pub/Sub messages carrying the recipient
// as an attribute, leaving delivery to downstream subscribers.
type PubSub struct {
	publisher Publisher
}

var _ crawler.Notifier = (*PubSub)(nil)

// NewPubSub wraps publisher.
func NewPubSub(publisher Publisher) (*PubSub, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	return &PubSub{publisher: publisher}, nil
}

// Send publishes message addressed to recipient.
func (p *PubSub) Send(ctx context.Context, message, recipient string) (string, error) {
	id, err := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       []byte(message),
		Attributes: map[string]string{"recipient": recipient},
	})
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// Topic adapts a Pub/Sub topic handle to Publisher.
type Topic struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// OpenTopic connects to projectID and checks that topicID exists.
func OpenTopic(ctx context.Context, projectID, topicID string) (*Topic, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_id are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic %q does not exist in project %q", topicID, projectID)
		}
		return nil, fmt.Errorf("open pubsub topic: %w", err)
	}
	return &Topic{client: client, topic: topic}, nil
}

// Publish sends msg and blocks until the server acknowledges it.
func (t *Topic) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

// Close flushes pending messages and closes the client.
func (t *Topic) Close() error {
	t.topic.Stop()
	if err := t.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
