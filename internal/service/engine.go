package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/trip-booking/internal/metrics"
	"github.com/iliyamo/trip-booking/internal/queue"
	"github.com/iliyamo/trip-booking/internal/repository"
)

// EventPublisher delivers engine events to the broker. *queue.Publisher
// satisfies it.
type EventPublisher interface {
	BookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	BookingCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
	PaymentRefunded(ctx context.Context, ev queue.PaymentRefundedEvent) error
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	HoldWindow   time.Duration
	Currency     string
	SweepBatch   int
	SweepWorkers int
	Gateway      Gateway
	IDs          *IDGenerator
	Events       EventPublisher
	Catalog      *TripCatalog
	Now          func() time.Time
	Logger       *logrus.Logger
}

// Engine is the booking and payment transaction engine. Each public
// operation runs in one database transaction; gateway calls and event
// publishing happen outside it.
type Engine struct {
	db       *sql.DB
	trips    *repository.TripRepo
	bookings *repository.BookingRepo
	tickets  *repository.TicketRepo
	payments *repository.PaymentRepo
	ledger   *Ledger
	promo    *PromoEvaluator
	gateway  Gateway
	ids      *IDGenerator
	events   *eventSink
	catalog  *TripCatalog
	now      func() time.Time
	log      *logrus.Entry

	holdWindow   time.Duration
	currency     string
	sweepBatch   int
	sweepWorkers int
}

// NewEngine wires an Engine over db.
func NewEngine(db *sql.DB, opts Options) *Engine {
	if opts.HoldWindow <= 0 {
		opts.HoldWindow = 15 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = NewIDGenerator(opts.Now, nil)
	}
	if opts.Gateway == nil {
		opts.Gateway = NewSimulator(SimulatorConfig{Now: opts.Now})
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "engine")
	trips := repository.NewTripRepo(db)
	return &Engine{
		db:           db,
		trips:        trips,
		bookings:     repository.NewBookingRepo(db),
		tickets:      repository.NewTicketRepo(db),
		payments:     repository.NewPaymentRepo(db),
		ledger:       NewLedger(trips, repository.NewSeatOccupancyRepo(db)),
		promo:        NewPromoEvaluator(repository.NewPromoRepo(db)),
		gateway:      opts.Gateway,
		ids:          opts.IDs,
		events:       &eventSink{pub: opts.Events, log: log},
		catalog:      opts.Catalog,
		now:          opts.Now,
		log:          log,
		holdWindow:   opts.HoldWindow,
		currency:     opts.Currency,
		sweepBatch:   opts.SweepBatch,
		sweepWorkers: opts.SweepWorkers,
	}
}

func (e *Engine) clock() time.Time { return e.now().UTC().Truncate(time.Second) }

// WaitEvents blocks until every event published so far has been handed to
// the broker or dropped.
func (e *Engine) WaitEvents() { e.events.wait() }

const publishTimeout = 5 * time.Second

// eventSink publishes on a background goroutine so a slow broker never
// delays the response of a committed operation.
type eventSink struct {
	pub EventPublisher
	log *logrus.Entry
	wg  sync.WaitGroup
}

func (s *eventSink) emit(queueName string, send func(ctx context.Context, pub EventPublisher) error) {
	if s == nil || s.pub == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := send(ctx, s.pub); err != nil {
			metrics.EventPublishFailed(queueName)
			s.log.WithFields(logrus.Fields{"queue": queueName, "error": err}).Warn("event publish failed")
		}
	}()
}

func (s *eventSink) wait() {
	if s != nil {
		s.wg.Wait()
	}
}
