package ingester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/streak"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName     = "GIFT_EVENTS"
	DefaultSubject = "live.gift.>"
	DefaultLanes   = 16

	laneBuffer = 256
)

// GiftProcessor normalizes one raw gift event.
type GiftProcessor interface {
	Process(ctx context.Context, raw gifts.RawGiftEvent) (gifts.NormalizedGiftEvent, bool, error)
}

// Resolver fills in gift metadata before normalization.
type Resolver interface {
	Resolve(ctx context.Context, e *gifts.RawGiftEvent)
}

// RejectHandlerFunc is called for every message that cannot be normalized.
type RejectHandlerFunc func(ctx context.Context, subject string, data []byte, err error)

type Config struct {
	URL     string
	Subject string
	Lanes   int
}

type job struct {
	subject string
	data    []byte
	event   gifts.RawGiftEvent
}

// Ingester consumes raw gift events from JetStream and hands them to the
// normalizer. Events for the same streak key always land on the same lane,
// so they are processed in arrival order.
type Ingester struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string

	proc     GiftProcessor
	resolver Resolver
	onReject RejectHandlerFunc

	subs  []jetstream.ConsumeContext
	lanes []chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// ctx stops intake; workCtx outlives it until the lanes have drained.
	ctx        context.Context
	cancel     context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
}

func New(cfg Config, proc GiftProcessor, res Resolver) (*Ingester, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("giftstream"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ing := newIngester(proc, res, cfg.Lanes)
	ing.nc = nc
	ing.js = js
	ing.subject = cfg.Subject
	if ing.subject == "" {
		ing.subject = DefaultSubject
	}
	return ing, nil
}

// newIngester builds the lane workers without a NATS connection.
func newIngester(proc GiftProcessor, res Resolver, lanes int) *Ingester {
	if lanes <= 0 {
		lanes = DefaultLanes
	}
	ctx, cancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())
	ing := &Ingester{
		proc:       proc,
		resolver:   res,
		lanes:      make([]chan job, lanes),
		ctx:        ctx,
		cancel:     cancel,
		workCtx:    workCtx,
		workCancel: workCancel,
	}
	for i := range ing.lanes {
		ing.lanes[i] = make(chan job, laneBuffer)
		ing.wg.Add(1)
		go ing.work(ing.lanes[i])
	}
	return ing
}

// Start binds the durable consumer and begins consuming.
func (ing *Ingester) Start() error {
	ctx := context.Background()

	if err := ing.ensureStream(ctx); err != nil {
		return err
	}

	consumerName := fmt.Sprintf("giftstream-%s", StreamName)
	if err := ing.subscribe(ctx, consumerName); err != nil {
		return fmt.Errorf("subscribe to %s: %w", StreamName, err)
	}

	slog.Info("subscribed to stream", "stream", StreamName, "subject", ing.subject, "consumer", consumerName, "lanes", len(ing.lanes))
	return nil
}

func (ing *Ingester) ensureStream(ctx context.Context) error {
	_, err := ing.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = ing.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{ing.subject},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}

	slog.Info("created stream", "name", StreamName, "subject", ing.subject)
	return nil
}

func (ing *Ingester) subscribe(ctx context.Context, consumerName string) error {
	consumer, err := ing.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ing.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	ing.subs = append(ing.subs, cc)
	return nil
}

func (ing *Ingester) handleMessage(msg jetstream.Msg) {
	e, err := gifts.Decode(msg.Data())
	if err != nil {
		slog.Warn("malformed gift event, skipping", "subject", msg.Subject(), "error", err)
		ing.reject(msg.Subject(), msg.Data(), err)
		// Ack to avoid redelivery of permanently broken messages.
		_ = msg.Ack()
		return
	}

	if ing.resolver != nil {
		ing.resolver.Resolve(ing.ctx, &e)
	}

	if !ing.dispatch(job{subject: msg.Subject(), data: msg.Data(), event: e}) {
		// Shutting down: leave unacked so JetStream redelivers.
		return
	}

	// Ack once the event is queued for its lane. A crash before the lane
	// drains loses at most laneBuffer events per lane.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// dispatch queues j on the lane owning its streak key. It reports false once
// the ingester is closing.
func (ing *Ingester) dispatch(j job) bool {
	ing.mu.RLock()
	defer ing.mu.RUnlock()
	if ing.closed {
		return false
	}

	lane := ing.lanes[streak.ShardIndex(j.event.Key(), len(ing.lanes))]
	select {
	case lane <- j:
		return true
	case <-ing.ctx.Done():
		return false
	}
}

func (ing *Ingester) work(lane <-chan job) {
	defer ing.wg.Done()
	for j := range lane {
		_, _, err := ing.proc.Process(ing.workCtx, j.event)
		if err == nil {
			continue
		}
		if errors.Is(err, gifts.ErrInvalidEvent) {
			slog.Warn("rejected gift event", "subject", j.subject, "sender_id", j.event.SenderID, "gift_id", j.event.GiftID, "error", err)
			ing.reject(j.subject, j.data, err)
			continue
		}
		slog.Error("gift event processing failed", "subject", j.subject, "error", err)
	}
}

func (ing *Ingester) reject(subject string, data []byte, err error) {
	if ing.onReject != nil {
		ing.onReject(ing.workCtx, subject, data, err)
	}
}

// SetRejectHandler registers a callback for events that cannot be normalized.
func (ing *Ingester) SetRejectHandler(fn RejectHandlerFunc) {
	ing.onReject = fn
}

// NATSConn returns the underlying NATS connection.
func (ing *Ingester) NATSConn() *nats.Conn {
	return ing.nc
}

// Publish sends a message to NATS (alerts, dead letters, lifecycle).
func (ing *Ingester) Publish(subject string, data []byte) error {
	return ing.nc.Publish(subject, data)
}

// Close stops consuming, lets every lane finish its queued events, then
// drains the NATS connection.
func (ing *Ingester) Close() {
	for _, cc := range ing.subs {
		cc.Stop()
	}
	ing.cancel()

	ing.mu.Lock()
	if !ing.closed {
		ing.closed = true
		for _, lane := range ing.lanes {
			close(lane)
		}
	}
	ing.mu.Unlock()

	ing.wg.Wait()
	ing.workCancel()
	if ing.nc != nil {
		_ = ing.nc.Drain()
	}
}
