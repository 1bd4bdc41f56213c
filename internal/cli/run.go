package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/cmdutil"
	"snapshot-harness/internal/config"
	"snapshot-harness/internal/events"
	"snapshot-harness/internal/filesystem"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/metrics"
	"snapshot-harness/internal/qemu"
	"snapshot-harness/internal/scenario"
	"snapshot-harness/internal/server"
	"snapshot-harness/internal/status"
)

// buildFunc returns the phases of a scenario once its Env is wired.
type buildFunc func(env *scenario.Env, run cmdutil.Runner) harness.Phases

// execute runs one scenario against c.VMName with everything around it: the
// per-VM lock, the domain handle, metrics, the status server and the
// webhook.
func execute(ctx context.Context, log *logrus.Logger, name string, c config.Common, run cmdutil.Runner, build buildFunc) error {
	if err := filesystem.EnsureDirectory(c.LockDir, 0o755); err != nil {
		return harness.Preconditionf(err, "prepare lock dir")
	}
	lock, err := harness.AcquireLock(c.LockDir, c.VMName)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("failed to release lock")
		}
	}()

	tracker := status.NewTracker(name, c.VMName)
	entry := log.WithFields(logrus.Fields{"run": tracker.ID(), "vm": c.VMName})

	virsh := libvirt.NewVirsh(run, c.Virsh)
	dom, closeDomain, err := openDomain(ctx, c, virsh)
	if err != nil {
		return harness.Preconditionf(err, "VM '%s' not found", c.VMName)
	}
	defer closeDomain()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewSnapshotCollector(c.VMName, virsh, entry),
	)
	m := metrics.NewHarness(reg)

	if c.StatusListen != "" {
		srv := server.NewServer(server.Options{
			Addr:   c.StatusListen,
			Token:  c.StatusToken,
			Mounts: []string{c.WorkDir},
		}, tracker, reg, entry)
		srvCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := server.Serve(srvCtx, srv, entry); err != nil {
				entry.WithError(err).Warn("status server failed")
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	env := scenario.NewEnv(c.VMName, c.WorkDir, virsh, dom, qemu.NewImage(run, c.QemuImg, entry), m, tracker, entry)
	start := time.Now()
	err = harness.Run(ctx, entry, build(env, run))
	tracker.Finish(err)

	result := resultOf(err)
	m.RunFinished(c.VMName, name, result)
	fields := logrus.Fields{"result": result, "took": time.Since(start).Round(time.Second)}
	if err != nil {
		entry.WithFields(fields).WithError(err).Error("run failed")
	} else {
		entry.WithFields(fields).Info("run passed")
	}

	notifier := events.NewNotifier(c.WebhookURL, entry)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if werr := notifier.Send(sendCtx, notifier.RunFinished(tracker.Snapshot(), result)); werr != nil {
		entry.WithError(werr).Warn("failed to send webhook")
	}
	return err
}

func resultOf(err error) string {
	if err == nil {
		return "pass"
	}
	if k := harness.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

// openDomain returns the VM handle for the configured backend and a function
// releasing it.
func openDomain(ctx context.Context, c config.Common, virsh *libvirt.Virsh) (libvirt.Domain, func(), error) {
	switch c.Backend {
	case config.BackendRPC:
		d, err := libvirt.DialDomain(c.Socket, c.VMName, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case config.BackendVirsh, "":
		d, err := libvirt.LookupDomain(ctx, virsh, c.VMName)
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown domain backend %q", c.Backend)
}
