// Package service restarts the libvirt daemon and waits for it to answer
// again.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/cmdutil"
)

// Pinger is satisfied by *libvirt.Virsh.
type Pinger interface {
	Version(ctx context.Context) error
}

// Daemon controls one systemd service.
type Daemon struct {
	Name string
	// Settle is slept right after the restart.
	Settle time.Duration
	// Attempts and Delay bound the readiness poll after Settle.
	Attempts uint
	Delay    time.Duration

	run   cmdutil.Runner
	ping  Pinger
	log   logrus.FieldLogger
	sleep func(context.Context, time.Duration) error
	pids  func(context.Context, string) []int32
}

// NewDaemon returns a Daemon restarting name through systemctl.
func NewDaemon(name string, run cmdutil.Runner, ping Pinger, log logrus.FieldLogger) *Daemon {
	return &Daemon{
		Name:     name,
		Settle:   2 * time.Second,
		Attempts: 30,
		Delay:    time.Second,
		run:      run,
		ping:     ping,
		log:      log.WithField("service", name),
		sleep:    Sleep,
		pids:     processIDs,
	}
}

// Restart restarts the service and blocks until virsh answers again.
func (d *Daemon) Restart(ctx context.Context) error {
	before := d.pids(ctx, d.Name)
	if _, err := cmdutil.Output(ctx, d.run, "systemctl", "restart", d.Name); err != nil {
		return fmt.Errorf("failed to restart %s: %w", d.Name, err)
	}
	if err := d.WaitReady(ctx); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"pids_before": before, "pids_after": d.pids(ctx, d.Name)}).Info("service restarted")
	return nil
}

// WaitReady sleeps the settle interval, then polls the daemon until it
// responds or the attempts run out.
func (d *Daemon) WaitReady(ctx context.Context) error {
	if err := d.sleep(ctx, d.Settle); err != nil {
		return err
	}
	attempts := d.Attempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error { return d.ping.Version(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(d.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.log.WithError(err).WithField("attempt", n+1).Debug("service not ready yet")
		}),
	)
	if err != nil {
		return fmt.Errorf("%s did not become ready: %w", d.Name, err)
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// processIDs lists the pids of processes called name. Failures yield nil;
// the pids are only logged.
func processIDs(ctx context.Context, name string) []int32 {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	var pids []int32
	for _, p := range procs {
		if n, err := p.NameWithContext(ctx); err == nil && n == name {
			pids = append(pids, p.Pid)
		}
	}
	return pids
}
