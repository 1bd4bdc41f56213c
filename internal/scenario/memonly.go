package scenario

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/config"
	"snapshot-harness/internal/filesystem"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/restore"
)

// MemOnly creates one live snapshot that stores guest memory in a file and
// excludes every disk, then checks that no disk was touched.
type MemOnly struct {
	cfg config.MemOnly
	env *Env
	log logrus.FieldLogger

	baseline *harness.Baseline
	before   map[string]string
	snapshot string
}

func NewMemOnly(cfg config.MemOnly, env *Env) *MemOnly {
	return &MemOnly{
		cfg: cfg,
		env: env,
		log: env.Log.WithFields(logrus.Fields{"scenario": "memonly", "strategy": cfg.Strategy}),
	}
}

// Phases returns the scenario steps for harness.Run.
func (m *MemOnly) Phases() harness.Phases {
	return m.env.phases(m.Setup, m.Exercise, m.Teardown)
}

func (m *MemOnly) Setup(ctx context.Context) error {
	for _, dir := range []string{m.cfg.WorkDir, filepath.Dir(m.cfg.MemFile)} {
		if err := filesystem.EnsureDirectory(dir, 0o755); err != nil {
			return harness.Preconditionf(err, "prepare %s", dir)
		}
	}
	if filesystem.Exists(m.cfg.MemFile) {
		m.log.WithField("file", m.cfg.MemFile).Warn("removing stale memory file")
		if err := filesystem.RemoveFile(m.cfg.MemFile); err != nil {
			return harness.Preconditionf(err, "remove stale memory file")
		}
	}

	b, err := harness.CaptureBaseline(ctx, m.env.Virsh, m.cfg.VMName, m.cfg.WorkDir, m.log)
	if err != nil {
		return err
	}
	m.baseline = b

	if m.cfg.Strategy == config.StrategyXML {
		targets, err := m.env.Prober.ListDiskTargets(ctx)
		if err != nil {
			return err
		}
		if err := m.env.stopIfAlive(ctx); err != nil {
			return err
		}
		for _, t := range targets {
			if err := m.env.Mutator.MarkDiskUnsnapshotted(ctx, t); err != nil {
				return err
			}
		}
	}

	if err := m.env.ensureRunning(ctx, m.cfg.WaitGuestPing); err != nil {
		return err
	}

	m.before, err = m.env.Prober.DiskSources(ctx)
	return err
}

// Options returns the snapshot-create-as options for the configured
// strategy. targets are only used with the diskspec strategy.
func (m *MemOnly) Options(targets []string) []string {
	var opts []string
	if !m.cfg.KeepMetadata {
		opts = append(opts, "--no-metadata")
	}
	opts = append(opts, libvirt.MemSpec(m.cfg.MemFile)...)
	opts = append(opts, "--live")
	if m.cfg.Strategy == config.StrategyDiskSpec {
		for _, t := range targets {
			opts = append(opts, libvirt.DiskSpecNoSnapshot(t)...)
		}
	}
	return opts
}

func (m *MemOnly) Exercise(ctx context.Context) error {
	var targets []string
	if m.cfg.Strategy == config.StrategyDiskSpec {
		var err error
		if targets, err = m.env.Prober.ListDiskTargets(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	out, err := m.env.Virsh.SnapshotCreateAs(ctx, m.cfg.VMName, m.Options(targets)...)
	if err != nil {
		return harness.Operationf(err, "memory-only snapshot of %s", m.cfg.VMName)
	}
	m.env.Metrics.SnapshotCreated(m.cfg.VMName, "memory", time.Since(start))
	m.env.Tracker.SnapshotCreated()
	m.log.WithField("output", out).Info("memory-only snapshot created")

	if m.cfg.KeepMetadata {
		if m.snapshot, err = m.env.Virsh.SnapshotCurrentName(ctx, m.cfg.VMName); err != nil {
			return harness.Operationf(err, "find the new snapshot of %s", m.cfg.VMName)
		}
	}
	return m.verify(ctx)
}

// verify checks the memory file was written and every disk still points at
// the path it had before the snapshot. A disk the snapshot did not exclude
// would now point at a new overlay.
func (m *MemOnly) verify(ctx context.Context) error {
	size, err := filesystem.Size(m.cfg.MemFile)
	if err != nil {
		return harness.Operationf(err, "memory file %s", m.cfg.MemFile)
	}
	if size == 0 {
		return harness.Operationf(nil, "memory file %s is empty", m.cfg.MemFile)
	}

	after, err := m.env.Prober.DiskSources(ctx)
	if err != nil {
		return err
	}
	for target, path := range m.before {
		if after[target] != path {
			return harness.Operationf(nil, "disk %s was snapshotted: source changed from %q to %q", target, path, after[target])
		}
	}

	if m.snapshot != "" {
		if err := m.verifyMetadata(ctx); err != nil {
			return err
		}
	}
	m.log.WithField("memory_file", m.cfg.MemFile).Info("memory-only snapshot verified")
	return nil
}

func (m *MemOnly) verifyMetadata(ctx context.Context) error {
	doc, err := m.env.Virsh.SnapshotDumpXML(ctx, m.cfg.VMName, m.snapshot)
	if err != nil {
		return harness.Operationf(err, "snapshot-dumpxml %s", m.snapshot)
	}
	snap, err := libvirt.ParseSnapshotXML(doc)
	if err != nil {
		return harness.Operationf(err, "read snapshot %s", m.snapshot)
	}
	if snap.Memory == nil || snap.Memory.Snapshot != "external" {
		return harness.Operationf(nil, "snapshot %s has no external memory state", m.snapshot)
	}
	if snap.Disks != nil {
		for _, d := range snap.Disks.Disks {
			if d.Snapshot != "no" {
				return harness.Operationf(nil, "snapshot %s includes disk %s (snapshot=%q)", m.snapshot, d.Name, d.Snapshot)
			}
		}
	}
	return nil
}

func (m *MemOnly) Teardown(ctx context.Context) error {
	p := restore.Plan{
		RemoveFiles: []string{m.cfg.MemFile},
		Baseline:    m.baseline,
	}
	if m.snapshot != "" {
		p.Snapshots = []string{m.snapshot}
	}
	return m.env.Restorer.Teardown(ctx, p)
}
