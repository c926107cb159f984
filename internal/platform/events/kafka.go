package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	queueSize      = 256
	deliverTimeout = 10 * time.Second
)

var (
	ErrNotStarted = errors.New("event publisher not started")
	ErrStopped    = errors.New("event publisher stopped")
	ErrQueueFull  = errors.New("event queue full")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type envelope struct {
	eventType string
	key       []byte
	value     []byte
}

// KafkaPublisher queues events in memory and delivers them from a single
// background goroutine, so request latency never depends on the brokers.
type KafkaPublisher struct {
	writer   messageWriter
	log      zerolog.Logger
	recorder Recorder

	queue     chan envelope
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

func NewKafkaPublisher(cfg KafkaConfig, log zerolog.Logger, rec Recorder) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaPublisher(w, log, rec), nil
}

func newKafkaPublisher(w messageWriter, log zerolog.Logger, rec Recorder) *KafkaPublisher {
	return &KafkaPublisher{
		writer:   w,
		log:      log.With().Str("component", "event_publisher").Logger(),
		recorder: rec,
		queue:    make(chan envelope, queueSize),
	}
}

// Start launches the delivery loop. Calling it twice is a no-op.
func (p *KafkaPublisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.started.Store(true)
		p.wg.Add(1)
		go p.run()
		p.log.Info().Msg("event publisher started")
	})
}

// Close stops the loop, drains what is already queued and closes the writer.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if err := p.writer.Close(); err != nil {
			p.log.Error().Err(err).Msg("close kafka writer")
		}
		p.log.Info().Msg("event publisher stopped")
	})
	return stopErr
}

// Publish enqueues e. It never blocks: a full queue drops the event.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		p.failed(e.Type, err, "encode event")
		return fmt.Errorf("encode event: %w", err)
	}
	env := envelope{eventType: e.Type, value: value}
	if e.Key != "" {
		env.key = []byte(e.Key)
	}

	select {
	case <-p.runCtx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.queue <- env:
		return nil
	default:
		p.failed(e.Type, ErrQueueFull, "drop event")
		return ErrQueueFull
	}
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			p.started.Store(false)
			return
		case env := <-p.queue:
			p.deliver(env)
		}
	}
}

func (p *KafkaPublisher) drain() {
	for {
		select {
		case env := <-p.queue:
			p.deliver(env)
		default:
			return
		}
	}
}

// deliver uses its own deadline so a queued event still goes out while the
// loop is shutting down.
func (p *KafkaPublisher) deliver(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: env.key, Value: env.value}); err != nil {
		p.failed(env.eventType, err, "deliver event")
		return
	}
	p.log.Debug().Str("type", env.eventType).Msg("event delivered")
}

func (p *KafkaPublisher) failed(eventType string, err error, msg string) {
	if p.recorder != nil {
		p.recorder.EventPublishFailed(eventType)
	}
	p.log.Error().Err(err).Str("type", eventType).Msg(msg)
}
