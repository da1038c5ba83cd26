// Package pubsub publishes crawl records to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// Publisher sends one message and returns its server-assigned ID.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Config identifies the topic.
type Config struct {
	ProjectID string
	Topic     string
}

// TopicPublisher wraps a Pub/Sub publisher client.
type TopicPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewTopicPublisher dials Pub/Sub using application default credentials.
func NewTopicPublisher(ctx context.Context, cfg Config) (*TopicPublisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("sink.pubsub_project and sink.pubsub_topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &TopicPublisher{client: client, publisher: client.Publisher(cfg.Topic)}, nil
}

// Publish sends data and waits for the server acknowledgement.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *TopicPublisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// Sink implements crawler.RecordSink by publishing each record as JSON.
// Messages carry the target and item id as attributes.
type Sink struct {
	pub    Publisher
	target string
	closer func() error
}

// NewSink builds a Sink. When pub also has a Close method it is called by
// Sink.Close.
func NewSink(pub Publisher, target string) (*Sink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	s := &Sink{pub: pub, target: target}
	if c, ok := pub.(interface{ Close() error }); ok {
		s.closer = c.Close
	}
	return s, nil
}

// Write publishes record and blocks until it is acknowledged.
func (s *Sink) Write(ctx context.Context, record crawler.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	attrs := map[string]string{
		"target":  s.target,
		"item_id": record.Get(crawler.FieldID),
	}
	if runID := crawler.RunIDFromContext(ctx); runID != "" {
		attrs["run_id"] = runID
	}
	if _, err := s.pub.Publish(ctx, data, attrs); err != nil {
		return err
	}
	return nil
}

// Close releases the publisher.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
