package notification

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

const (
	DefaultQueueSize       = 1024
	DefaultDeliveryTimeout = 5 * time.Second
)

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

type Config struct {
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Stats counts events since the dispatcher was created.
type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher implements scheduling.Notifier over a bounded queue. Events
// that do not fit are dropped with a warning. Run fans each event out to
// every sink concurrently.
type Dispatcher struct {
	queue   chan Event
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

var _ scheduling.Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg Config, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return &Dispatcher{
		queue:   make(chan Event, cfg.QueueSize),
		sinks:   sinks,
		timeout: cfg.DeliveryTimeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "notification").Logger(),
	}
}

// SinkNames lists the configured sinks in order.
func (d *Dispatcher) SinkNames() []string {
	return lo.Map(d.sinks, func(s Sink, _ int) string { return s.Name() })
}

func (d *Dispatcher) AppointmentBooked(_ context.Context, a *scheduling.Appointment) {
	d.enqueue(newEvent(EventBooked, a, "", a.Status, d.now().UTC()))
}

func (d *Dispatcher) AppointmentStatusChanged(_ context.Context, a *scheduling.Appointment, from, to scheduling.Status) {
	d.enqueue(newEvent(EventStatusChanged, a, from, to, d.now().UTC()))
}

func (d *Dispatcher) enqueue(e Event) {
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.logger.Warn().
			Str("event_type", string(e.Type)).
			Str("appointment_id", e.AppointmentID.String()).
			Int("queue_size", cap(d.queue)).
			Msg("notification queue full, event dropped")
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Strs("sinks", d.SinkNames()).Msg("notification dispatcher started")
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-ctx.Done():
			d.flush()
			return nil
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		default:
			return
		}
	}
}

// deliver runs every sink under its own deadline. Delivery is detached from
// the caller's context so shutdown still flushes.
func (d *Dispatcher) deliver(e Event) {
	if len(d.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Deliver(ctx, e); err != nil {
				d.failed.Add(1)
				d.logger.Error().Err(err).
					Str("sink", sink.Name()).
					Str("event_type", string(e.Type)).
					Str("appointment_id", e.AppointmentID.String()).
					Msg("notification delivery failed")
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			d.delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
