package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

type published struct {
	data  []byte
	attrs map[string]string
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
	closed   bool
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, published{data: data, attrs: attrs})
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestSinkPublishesRecordAsJSON(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	s, err := NewSink(pub, "nes")
	require.NoError(t, err)

	ctx := crawler.WithRunID(context.Background(), "run-1")
	require.NoError(t, s.Write(ctx, crawler.Record{"id": "7", "Title": "Zelda"}))
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	require.Equal(t, map[string]string{"target": "nes", "item_id": "7", "run_id": "run-1"}, msg.attrs)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msg.data, &decoded))
	require.Equal(t, "Zelda", decoded["Title"])

	require.NoError(t, s.Close())
	require.True(t, pub.closed)
}

func TestSinkPropagatesPublishErrors(t *testing.T) {
	t.Parallel()

	s, err := NewSink(&fakePublisher{err: errors.New("unavailable")}, "nes")
	require.NoError(t, err)
	require.ErrorContains(t, s.Write(context.Background(), crawler.Record{"id": "1"}), "unavailable")
}

func TestNewSinkRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := NewSink(nil, "nes")
	require.Error(t, err)
}

func TestNewTopicPublisherValidates(t *testing.T) {
	t.Parallel()

	_, err := NewTopicPublisher(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)

	var empty TopicPublisher
	_, err = empty.Publish(context.Background(), nil, nil)
	require.Error(t, err)
	require.NoError(t, empty.Close())
}
