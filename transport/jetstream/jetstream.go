// Package jetstream provides a NATS JetStream ingress transport. Unlike the
// core nats transport, trigger events survive restarts and are redelivered
// until the ingress acknowledges them.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/glue/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "GLUE"
	DefaultMaxDeliver = 3
	DefaultAckWait    = 30 * time.Second

	// HeaderMessageUUID carries the watermill message UUID across the broker.
	HeaderMessageUUID = "_watermill_message_uuid"

	fetchBatch = 10
)

var ErrClosed = errors.New("jetstream: transport is closed")

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("glue"))
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.GetNATSURL() == "" {
		return transport.Transport{}, errors.New("jetstream: NATS URL is required")
	}
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream-specific settings.
type Config struct {
	URL string

	// StreamName is the JetStream stream holding every topic. Defaults to "GLUE".
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is how long the broker waits for an acknowledgment before redelivering.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) retention() nats.RetentionPolicy {
	switch c.RetentionPolicy {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Transport implements message.Publisher and message.Subscriber on JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subMu         sync.Mutex
	subscriptions []*nats.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: create context: %w", err)
	}

	t := &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  t.config.Replicas,
		Retention: t.config.retention(),
	}

	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("jetstream: ensure stream %s: %w", t.config.StreamName, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Publish publishes messages to the stream subject derived from topic.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	subject := subjectFor(t.config.StreamName, topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("jetstream: publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates a durable pull consumer for topic.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	subject := subjectFor(t.config.StreamName, topic)
	durable := consumerFor(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("jetstream: create consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable, nats.BindStream(t.config.StreamName))
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", subject, err)
	}

	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	output := make(chan *message.Message)
	go t.fetch(ctx, sub, output, topic)
	return output, nil
}

func (t *Transport) fetch(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		batch, err := sub.Fetch(fetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && !t.isClosed() {
				t.logger.Error("Failed to fetch messages", err, watermill.LogFields{"topic": topic})
			}
			continue
		}

		for _, natsMsg := range batch {
			msg := fromNATS(natsMsg)
			msg.SetContext(ctx)

			select {
			case output <- msg:
			case <-ctx.Done():
				return
			}

			select {
			case <-msg.Acked():
				err = natsMsg.Ack()
			case <-msg.Nacked():
				err = natsMsg.Nak()
			case <-ctx.Done():
				return
			}
			if err != nil {
				t.logger.Error("Failed to acknowledge message", err, watermill.LogFields{"topic": topic, "uuid": msg.UUID})
			}
		}
	}
}

// Close stops every subscription and closes the connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)

		t.subMu.Lock()
		for _, sub := range t.subscriptions {
			_ = sub.Unsubscribe()
		}
		t.subscriptions = nil
		t.subMu.Unlock()

		t.nc.Close()
	})
	return nil
}

// Capabilities reports the JetStream capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

func subjectFor(stream, topic string) string {
	return stream + "." + topic
}

// consumerFor derives a durable consumer name. Durable names may not contain
// '.', '*', '>' or whitespace.
func consumerFor(topic string) string {
	replacer := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")
	return "glue_" + replacer.Replace(topic)
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Metadata {
		header.Set(k, v)
	}
	header.Set(HeaderMessageUUID, msg.UUID)
	header.Set(nats.MsgIdHdr, msg.UUID)

	return &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  header,
	}
}

func fromNATS(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(HeaderMessageUUID)
	if id == "" {
		id = watermill.NewULID()
	}

	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == HeaderMessageUUID || k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}
