package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/glue/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.SupportsAck)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.NATSCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	}()

	t.Run("creates a core transport", func(t *testing.T) {
		mockPub, mockSub := &mockPublisher{}, &mockSubscriber{}
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.True(t, cfg.JetStream.Disabled)
			return mockPub, nil
		}
		SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.Equal(t, QueueGroupPrefix, cfg.QueueGroupPrefix)
			assert.True(t, cfg.JetStream.Disabled)
			return mockSub, nil
		}

		tr, err := Build(context.Background(), transport.StaticConfig{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
	})

	t.Run("requires a URL", func(t *testing.T) {
		_, err := Build(context.Background(), transport.StaticConfig{}, watermill.NopLogger{})
		assert.ErrorIs(t, err, ErrURLRequired)
	})

	t.Run("publisher error", func(t *testing.T) {
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("connection refused")
		}

		_, err := Build(context.Background(), transport.StaticConfig{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("subscriber error closes publisher", func(t *testing.T) {
		mockPub := &mockPublisher{}
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscribe failed")
		}

		_, err := Build(context.Background(), transport.StaticConfig{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscribe failed")
		assert.True(t, mockPub.closed)
	})
}

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { m.closed = true; return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
