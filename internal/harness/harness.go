// Package harness runs a test as setup, exercise and teardown phases and
// provides the baseline and locking primitives the scenarios share.
package harness

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Phases are the three steps of a test. Any of them may be nil.
type Phases struct {
	Setup    func(ctx context.Context) error
	Exercise func(ctx context.Context) error
	// Teardown always runs. It is given a context that is not cancelled
	// with the run's, so cleanup still happens after an interrupt.
	Teardown func(ctx context.Context) error
}

// Run executes Setup, then Exercise if Setup succeeded, then Teardown no
// matter what happened before, including a panic. A Teardown error is logged
// and dropped: the returned error is always the Setup or Exercise one.
func Run(ctx context.Context, log logrus.FieldLogger, p Phases) error {
	defer func() {
		r := recover()
		if p.Teardown != nil {
			teardown(ctx, log, p.Teardown)
		}
		if r != nil {
			panic(r)
		}
	}()

	if p.Setup != nil {
		log.WithField("phase", "setup").Info("starting")
		if err := p.Setup(ctx); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	if p.Exercise != nil {
		log.WithField("phase", "exercise").Info("starting")
		if err := p.Exercise(ctx); err != nil {
			return fmt.Errorf("exercise: %w", err)
		}
	}
	return nil
}

func teardown(ctx context.Context, log logrus.FieldLogger, f func(context.Context) error) {
	log = log.WithField("phase", "teardown")
	log.Info("starting")
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Warn("teardown panicked")
		}
	}()
	if err := f(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("teardown restore failed")
	}
}
