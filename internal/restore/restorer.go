// Package restore puts a VM back the way a test found it. Every step is best
// effort: a failing step is logged and the next one still runs.
package restore

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/config"
	"snapshot-harness/internal/filesystem"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/metrics"
)

// Plan lists what a teardown has to undo. Zero fields are skipped.
type Plan struct {
	// DeleteAll removes every snapshot of the domain, following Kind.
	DeleteAll bool
	Kind      config.SnapshotKind
	// Snapshots are deleted by name, metadata only.
	Snapshots []string
	// StopDomain destroys the domain if it is running.
	StopDomain bool
	// OriginalDisk and MovedDisk undo a disk relocation.
	OriginalDisk string
	MovedDisk    string
	// RemoveFiles are removed if present.
	RemoveFiles []string
	Baseline    *harness.Baseline
}

// Restorer runs teardown steps against one domain.
type Restorer struct {
	vm      string
	virsh   *libvirt.Virsh
	domain  libvirt.Domain
	metrics *metrics.Harness
	log     logrus.FieldLogger
}

// New returns a Restorer. domain and m may be nil.
func New(vm string, virsh *libvirt.Virsh, domain libvirt.Domain, m *metrics.Harness, log logrus.FieldLogger) *Restorer {
	return &Restorer{vm: vm, virsh: virsh, domain: domain, metrics: m, log: log.WithField("vm", vm)}
}

// DeleteAllSnapshots deletes the current snapshot until there is none left.
// External snapshots are deleted with their children and only their metadata
// is removed. The loop gives up after one more attempt than snapshot-list
// reported, or as soon as a delete leaves the same snapshot current.
func (r *Restorer) DeleteAllSnapshots(ctx context.Context, kind config.SnapshotKind) (int, error) {
	opts := []string{"--current"}
	if kind == config.External {
		opts = append(opts, "--metadata", "--children")
	}

	limit := 1
	if names, err := r.virsh.SnapshotNames(ctx, r.vm); err != nil {
		r.log.WithError(err).Warn("cannot list snapshots, trying a single delete")
	} else {
		limit = len(names) + 1
	}

	deleted := 0
	prev := ""
	var lastErr error
	for i := 0; i < limit; i++ {
		cur, err := r.virsh.SnapshotCurrentName(ctx, r.vm)
		if err != nil || cur == "" {
			return deleted, nil
		}
		if cur == prev {
			if lastErr != nil {
				return deleted, fmt.Errorf("snapshot %s is still current: %w", cur, lastErr)
			}
			return deleted, fmt.Errorf("snapshot %s is still current after delete", cur)
		}
		prev = cur
		if lastErr = r.virsh.SnapshotDelete(ctx, r.vm, opts...); lastErr != nil {
			r.log.WithError(lastErr).WithField("snapshot", cur).Warn("snapshot delete failed")
			continue
		}
		deleted++
		r.metrics.SnapshotDeleted(r.vm)
	}
	if cur, err := r.virsh.SnapshotCurrentName(ctx, r.vm); err == nil && cur != "" {
		return deleted, fmt.Errorf("snapshots left after %d deletes, current is %s", deleted, cur)
	}
	return deleted, nil
}

// DeleteSnapshots removes the metadata of the named snapshots.
func (r *Restorer) DeleteSnapshots(ctx context.Context, names []string) error {
	var result *multierror.Error
	for _, name := range names {
		if err := r.virsh.SnapshotDelete(ctx, r.vm, name, "--metadata"); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		r.metrics.SnapshotDeleted(r.vm)
	}
	return result.ErrorOrNil()
}

// StopDomain destroys the domain if it is running.
func (r *Restorer) StopDomain(ctx context.Context) error {
	if r.domain == nil {
		return nil
	}
	alive, err := r.domain.IsAlive(ctx)
	if err != nil {
		return err
	}
	if !alive {
		return nil
	}
	if err := r.domain.Destroy(ctx); err != nil {
		return err
	}
	r.log.Info("domain destroyed")
	return nil
}

// RestoreDiskPlacement copies moved back over original. Nothing happens when
// the disk was never moved. The original is left alone if the moved copy is
// gone.
func (r *Restorer) RestoreDiskPlacement(ctx context.Context, original, moved string) error {
	if original == "" || moved == "" || original == moved {
		return nil
	}
	if !filesystem.Exists(moved) {
		return fmt.Errorf("moved disk %s is missing, %s left as is", moved, original)
	}
	if err := filesystem.RemoveFile(original); err != nil {
		return err
	}
	if err := filesystem.CopyFile(moved, original); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"from": moved, "to": original}).Info("disk copied back")
	return nil
}

// RestoreConfiguration defines the baseline XML again.
func (r *Restorer) RestoreConfiguration(ctx context.Context, b *harness.Baseline) error {
	return b.Restore(ctx)
}

// Teardown runs every step of p in order. The returned error aggregates the
// failed steps and is meant for logging only.
func (r *Restorer) Teardown(ctx context.Context, p Plan) error {
	var result *multierror.Error
	step := func(name string, f func() error) {
		if err := f(); err != nil {
			r.log.WithError(err).WithField("step", name).Warn("best-effort step failed")
			r.metrics.BestEffortFailed(r.vm, name)
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}

	if p.DeleteAll {
		step("delete_all_snapshots", func() error {
			n, err := r.DeleteAllSnapshots(ctx, p.Kind)
			r.log.WithField("deleted", n).Info("snapshots deleted")
			return err
		})
	}
	if len(p.Snapshots) > 0 {
		step("delete_snapshots", func() error { return r.DeleteSnapshots(ctx, p.Snapshots) })
	}
	if p.StopDomain {
		step("stop_domain", func() error { return r.StopDomain(ctx) })
	}
	step("restore_disk_placement", func() error {
		return r.RestoreDiskPlacement(ctx, p.OriginalDisk, p.MovedDisk)
	})
	for _, f := range p.RemoveFiles {
		step("remove_file", func() error { return filesystem.RemoveFile(f) })
	}
	if p.Baseline != nil {
		step("restore_configuration", func() error { return r.RestoreConfiguration(ctx, p.Baseline) })
	}
	return result.ErrorOrNil()
}
