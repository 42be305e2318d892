package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// Sweeper runs the periodic maintenance jobs: expiring pending bookings
// whose hold has ended and completing bookings on arrived trips.
type Sweeper struct {
	engine     *Engine
	holdEvery  time.Duration
	completeEv time.Duration
	sched      gocron.Scheduler
	log        *logrus.Entry
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewSweeper builds a Sweeper; non-positive intervals fall back to one
// minute for holds and five minutes for completion.
func NewSweeper(engine *Engine, holdEvery, completeEvery time.Duration) *Sweeper {
	if holdEvery <= 0 {
		holdEvery = time.Minute
	}
	if completeEvery <= 0 {
		completeEvery = 5 * time.Minute
	}
	log := logrus.NewEntry(logrus.StandardLogger())
	if engine != nil {
		log = engine.log
	}
	return &Sweeper{
		engine:     engine,
		holdEvery:  holdEvery,
		completeEv: completeEvery,
		log:        log.WithField("component", "sweeper"),
	}
}

// Start schedules both jobs. Each job runs at most once at a time.
func (s *Sweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("sweeper: new scheduler: %w", err)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := sched.NewJob(
		gocron.DurationJob(s.holdEvery),
		gocron.NewTask(s.expireHolds),
		gocron.WithName("expire-holds"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("sweeper: schedule hold expiry: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(s.completeEv),
		gocron.NewTask(s.completeTrips),
		gocron.WithName("complete-bookings"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("sweeper: schedule completion: %w", err)
	}
	sched.Start()
	s.sched = sched
	s.log.WithFields(logrus.Fields{
		"hold_every":     s.holdEvery.String(),
		"complete_every": s.completeEv.String(),
	}).Info("sweeper started")
	return nil
}

// Stop cancels in-flight sweeps and waits for the scheduler to drain.
func (s *Sweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	s.cancel()
	return s.sched.Shutdown()
}

func (s *Sweeper) expireHolds() {
	n, err := s.engine.ExpirePending(s.ctx)
	if err != nil {
		s.log.WithFields(logrus.Fields{"job": "expire-holds", "error": err}).Error("sweep failed")
		return
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"job": "expire-holds", "expired": n}).Info("pending bookings expired")
	}
}

func (s *Sweeper) completeTrips() {
	n, err := s.engine.CompleteDeparted(s.ctx)
	if err != nil {
		s.log.WithFields(logrus.Fields{"job": "complete-bookings", "error": err}).Error("sweep failed")
		return
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"job": "complete-bookings", "completed": n}).Info("bookings completed")
	}
}
