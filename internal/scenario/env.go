// Package scenario drives the two snapshot tests: a memory-only snapshot that
// must leave every disk alone, and a stress loop of disk snapshots followed
// by a libvirt restart.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/metrics"
	"snapshot-harness/internal/restore"
	"snapshot-harness/internal/service"
	"snapshot-harness/internal/state"
	"snapshot-harness/internal/status"
)

// Env is everything a scenario needs to act on one domain.
type Env struct {
	VM       string
	Virsh    *libvirt.Virsh
	Domain   libvirt.Domain
	Prober   *state.Prober
	Mutator  *state.Mutator
	Restorer *restore.Restorer
	Metrics  *metrics.Harness
	Tracker  *status.Tracker
	Log      logrus.FieldLogger

	// Sleep waits between loop iterations.
	Sleep func(context.Context, time.Duration) error
	// PollAttempts and PollDelay bound the waits for the domain to run and
	// for the guest agent to answer.
	PollAttempts uint
	PollDelay    time.Duration
}

// NewEnv wires the prober, mutator and restorer for vm. XML files are staged
// in dir.
func NewEnv(vm, dir string, virsh *libvirt.Virsh, domain libvirt.Domain, image state.FormatProber,
	m *metrics.Harness, tracker *status.Tracker, log logrus.FieldLogger) *Env {
	return &Env{
		VM:           vm,
		Virsh:        virsh,
		Domain:       domain,
		Prober:       state.NewProber(vm, virsh, image, log),
		Mutator:      state.NewMutator(vm, dir, virsh, log),
		Restorer:     restore.New(vm, virsh, domain, m, log),
		Metrics:      m,
		Tracker:      tracker,
		Log:          log.WithField("vm", vm),
		Sleep:        service.Sleep,
		PollAttempts: 60,
		PollDelay:    time.Second,
	}
}

// phases wraps the steps of a scenario so the tracker follows along.
func (e *Env) phases(setup, exercise, teardown func(context.Context) error) harness.Phases {
	track := func(p status.Phase, f func(context.Context) error) func(context.Context) error {
		return func(ctx context.Context) error {
			e.Tracker.SetPhase(p)
			return f(ctx)
		}
	}
	return harness.Phases{
		Setup:    track(status.PhaseSetup, setup),
		Exercise: track(status.PhaseExercise, exercise),
		Teardown: track(status.PhaseTeardown, teardown),
	}
}

func (e *Env) poll(ctx context.Context, what string, f func() error) error {
	attempts := e.PollAttempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(f,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(e.PollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.Log.WithError(err).WithField("attempt", n+1).Debugf("waiting for %s", what)
		}),
	)
}

// stopIfAlive destroys the domain so edits to its persistent XML apply on
// the next start.
func (e *Env) stopIfAlive(ctx context.Context) error {
	alive, err := e.Domain.IsAlive(ctx)
	if err != nil {
		return harness.Preconditionf(err, "query state of %s", e.VM)
	}
	if !alive {
		return nil
	}
	if err := e.Domain.Destroy(ctx); err != nil {
		return harness.Operationf(err, "destroy %s", e.VM)
	}
	e.Log.Info("domain stopped to apply configuration")
	return nil
}

// ensureRunning starts the domain if needed and waits until it reports
// running. With waitAgent it also waits for the guest agent to answer.
func (e *Env) ensureRunning(ctx context.Context, waitAgent bool) error {
	alive, err := e.Domain.IsAlive(ctx)
	if err != nil {
		return harness.Preconditionf(err, "query state of %s", e.VM)
	}
	if !alive {
		if err := e.Domain.Start(ctx); err != nil {
			return harness.Preconditionf(err, "start %s", e.VM)
		}
		e.Log.Info("domain started")
	}

	err = e.poll(ctx, "domain to run", func() error {
		st, err := e.Virsh.DomainState(ctx, e.VM)
		if err != nil {
			return err
		}
		if st != "running" {
			return fmt.Errorf("domain %s is %s", e.VM, st)
		}
		return nil
	})
	if err != nil {
		return harness.Preconditionf(err, "wait for %s to run", e.VM)
	}

	if waitAgent {
		err := e.poll(ctx, "guest agent", func() error { return e.Virsh.QemuAgentPing(ctx, e.VM) })
		if err != nil {
			return harness.Preconditionf(err, "wait for guest agent of %s", e.VM)
		}
	}
	return nil
}
