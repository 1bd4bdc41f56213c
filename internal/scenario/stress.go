package scenario

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/config"
	"snapshot-harness/internal/filesystem"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/restore"
)

// Restarter restarts the libvirt daemon and returns once it answers again.
// *service.Daemon satisfies it.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Relabeler gives a path the label the hypervisor needs to open it.
// *relabel.Relabeler satisfies it.
type Relabeler interface {
	Relabel(path string) bool
}

// Stress moves the disk under test into the work directory, creates many
// snapshots of it, restarts libvirt and checks the domain is still
// manageable.
type Stress struct {
	cfg       config.Stress
	env       *Env
	restarter Restarter
	relabeler Relabeler
	log       logrus.FieldLogger

	baseline *harness.Baseline
	original string
	moved    string
}

func NewStress(cfg config.Stress, env *Env, restarter Restarter, relabeler Relabeler) *Stress {
	return &Stress{
		cfg:       cfg,
		env:       env,
		restarter: restarter,
		relabeler: relabeler,
		log:       env.Log.WithFields(logrus.Fields{"scenario": "stress", "kind": cfg.Kind}),
	}
}

// Phases returns the scenario steps for harness.Run.
func (s *Stress) Phases() harness.Phases {
	return s.env.phases(s.Setup, s.Exercise, s.Teardown)
}

func (s *Stress) Setup(ctx context.Context) error {
	if err := filesystem.EnsureDirectory(s.cfg.WorkDir, 0o755); err != nil {
		return harness.Preconditionf(err, "prepare work dir")
	}
	b, err := harness.CaptureBaseline(ctx, s.env.Virsh, s.cfg.VMName, s.cfg.WorkDir, s.log)
	if err != nil {
		return err
	}
	s.baseline = b

	disk, err := s.env.Prober.ResolveDiskPath(ctx, s.cfg.TargetDev)
	if err != nil {
		return err
	}
	format := disk.Format
	if format == "" {
		format = "?"
	}
	s.log.WithFields(logrus.Fields{"target": disk.Target, "path": disk.Path, "format": format}).Info("original disk")

	dest := filepath.Join(s.cfg.WorkDir, filepath.Base(disk.Path))
	if err := s.placeDisk(disk.Path, dest); err != nil {
		return err
	}
	s.original, s.moved = disk.Path, dest

	s.relabeler.Relabel(s.cfg.WorkDir)
	s.relabeler.Relabel(dest)

	if err := s.env.stopIfAlive(ctx); err != nil {
		return err
	}
	if err := s.env.Mutator.RetargetDisk(ctx, s.cfg.TargetDev, dest); err != nil {
		return err
	}
	return s.env.ensureRunning(ctx, s.cfg.WaitGuestPing)
}

// placeDisk makes dest a copy of original. A missing original, or a disk
// already in the work dir whose file is gone, is restored from the images
// dir instead.
func (s *Stress) placeDisk(original, dest string) error {
	log := s.log.WithFields(logrus.Fields{"from": original, "to": dest})
	if original == dest {
		if filesystem.Exists(dest) {
			return nil
		}
		log.Warn("disk already points to work dir but the file is missing, restoring it")
		return s.restoreFromImages(dest)
	}
	if !filesystem.Exists(original) {
		log.Warn("original disk is missing, restoring straight into work dir")
		return s.restoreFromImages(dest)
	}

	size, err := filesystem.Size(original)
	if err != nil {
		return harness.Preconditionf(err, "stat %s", original)
	}
	if err := filesystem.EnsureFree(s.cfg.WorkDir, size); err != nil {
		return harness.Preconditionf(err, "copy %s", original)
	}
	if err := filesystem.RemoveFile(dest); err != nil {
		return harness.Operationf(err, "clear %s", dest)
	}
	start := time.Now()
	if err := filesystem.CopyFile(original, dest); err != nil {
		return harness.Operationf(err, "cp %s -> %s", original, dest)
	}
	log.WithFields(logrus.Fields{"size": humanize.IBytes(size), "took": time.Since(start).Round(time.Millisecond)}).Info("disk copied to work dir")
	return nil
}

func (s *Stress) restoreFromImages(dest string) error {
	src, err := filesystem.RestoreFromImages(s.cfg.ImagesDir, dest)
	if err != nil {
		return harness.Operationf(err, "restore %s", dest)
	}
	if src == "" {
		c := filesystem.ImageCandidates(s.cfg.ImagesDir, dest)
		return harness.Preconditionf(nil, "source image for '%s' not found. Tried: '%s' and '%s'", dest, c[0], c[1])
	}
	s.relabeler.Relabel(dest)
	s.log.WithFields(logrus.Fields{"from": src, "to": dest}).Info("restored missing disk")
	return nil
}

// CreateOptions returns the snapshot-create options for the configured kind.
func (s *Stress) CreateOptions() []string {
	var opts []string
	if s.cfg.Kind == config.External {
		opts = append(opts, "--disk-only", "--atomic")
	}
	return append(opts, s.cfg.ExtraOptions...)
}

func (s *Stress) Exercise(ctx context.Context) error {
	vm := s.cfg.VMName
	before, err := s.env.Virsh.SnapshotNames(ctx, vm)
	if err != nil {
		return harness.Operationf(err, "virsh snapshot-list %s --name", vm)
	}

	s.env.Tracker.SetTarget(s.cfg.Count)
	opts := s.CreateOptions()
	for i := 1; i <= s.cfg.Count; i++ {
		if i > 1 && s.cfg.Interval > 0 {
			if err := s.env.Sleep(ctx, s.cfg.Interval); err != nil {
				return fmt.Errorf("interrupted after %d snapshots: %w", i-1, err)
			}
		}
		start := time.Now()
		if _, err := s.env.Virsh.SnapshotCreate(ctx, vm, opts...); err != nil {
			return harness.Operationf(err, "snapshot %d/%d of %s", i, s.cfg.Count, vm)
		}
		s.env.Metrics.SnapshotCreated(vm, string(s.cfg.Kind), time.Since(start))
		s.env.Tracker.SnapshotCreated()
		s.log.WithField("iteration", i).Debug("snapshot created")
	}
	s.log.WithField("count", s.cfg.Count).Info("snapshot loop done")

	after, err := s.env.Virsh.SnapshotNames(ctx, vm)
	if err != nil {
		return harness.Operationf(err, "virsh snapshot-list %s --name", vm)
	}
	if want := len(before) + s.cfg.Count; len(after) != want {
		return harness.Operationf(nil, "%s has %d snapshots, want %d", vm, len(after), want)
	}

	if err := s.restarter.Restart(ctx); err != nil {
		return harness.Operationf(err, "restart %s", s.cfg.Service)
	}
	return s.check(ctx)
}

// check runs the read-only queries that must still work after the restart.
func (s *Stress) check(ctx context.Context) error {
	vm, target := s.cfg.VMName, s.cfg.TargetDev

	out, err := s.env.Virsh.DomStats(ctx, vm)
	if err != nil {
		return harness.Operationf(err, "virsh domstats %s", vm)
	}
	stats := libvirt.ParseDomStats(out)
	if _, ok := stats["state.state"]; !ok {
		return harness.Operationf(nil, "virsh domstats %s reported no state", vm)
	}

	out, err = s.env.Virsh.DomBlkInfo(ctx, vm, target)
	if err != nil {
		return harness.Operationf(err, "virsh domblkinfo %s %s", vm, target)
	}
	info := libvirt.ParseBlkInfo(out)

	if _, err := s.env.Virsh.SnapshotList(ctx, vm); err != nil {
		return harness.Operationf(err, "virsh snapshot-list %s", vm)
	}
	s.log.WithFields(logrus.Fields{
		"state":    stats["state.state"],
		"capacity": humanize.IBytes(info["capacity"]),
	}).Info("post-restart checks passed")
	return nil
}

func (s *Stress) Teardown(ctx context.Context) error {
	return s.env.Restorer.Teardown(ctx, restore.Plan{
		DeleteAll:    true,
		Kind:         s.cfg.Kind,
		StopDomain:   true,
		OriginalDisk: s.original,
		MovedDisk:    s.moved,
		Baseline:     s.baseline,
	})
}
