package scenario

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshot-harness/internal/config"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/service"
	"snapshot-harness/internal/testutils/fakevirsh"
)

type recordingRelabeler struct {
	paths []string
}

func (r *recordingRelabeler) Relabel(path string) bool {
	r.paths = append(r.paths, path)
	return true
}

type stressFixture struct {
	*fixture
	original string
	workDir  string
	images   string
	relabel  *recordingRelabeler
	daemon   *service.Daemon
}

func newStressFixture(t *testing.T, original string) *stressFixture {
	t.Helper()
	f := newFixture(t, fakevirsh.DomainXML("vm1", fakevirsh.FileDisk("vda", original)))
	d := service.NewDaemon("libvirtd", f.host, f.virsh, f.log)
	d.Settle = 0
	d.Delay = 0
	d.Attempts = 3
	return &stressFixture{
		fixture:  f,
		original: original,
		workDir:  filepath.Join(f.dir, "work"),
		images:   filepath.Join(f.dir, "images"),
		relabel:  &recordingRelabeler{},
		daemon:   d,
	}
}

func (f *stressFixture) stress(kind config.SnapshotKind, count int, extra ...string) *Stress {
	return NewStress(config.Stress{
		Common:       config.Common{VMName: "vm1", WorkDir: f.workDir},
		Kind:         kind,
		Count:        count,
		Interval:     time.Second,
		ExtraOptions: extra,
		TargetDev:    "vda",
		ImagesDir:    f.images,
		Service:      "libvirtd",
	}, f.env, f.daemon, f.relabel)
}

func (f *stressFixture) inactiveSource(t *testing.T) string {
	t.Helper()
	dom, err := libvirt.ParseDomainXML(f.host.InactiveXML())
	require.NoError(t, err)
	return libvirt.DiskSourcePath(libvirt.FindDisk(dom, "vda"))
}

func TestStress_Internal(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "images-src", "disk.qcow2")
	writeFile(t, original, "pristine")
	f := newStressFixture(t, original)
	s := f.stress(config.Internal, 3)
	ctx := context.Background()

	require.NoError(t, s.Setup(ctx))
	moved := filepath.Join(f.workDir, "disk.qcow2")
	assert.Equal(t, "pristine", readFile(t, moved))
	assert.Equal(t, moved, f.inactiveSource(t))
	assert.True(t, f.host.Running())
	assert.Equal(t, []string{f.workDir, moved}, f.relabel.paths)

	require.NoError(t, s.Exercise(ctx))
	assert.Equal(t, []string{"virsh snapshot-create vm1", "virsh snapshot-create vm1", "virsh snapshot-create vm1"},
		f.host.CallsWithPrefix("virsh snapshot-create vm1"))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeps, "interval only between creations")
	assert.Equal(t, 1, f.host.Restarts())
	assert.Greater(t, f.indexOf("systemctl restart libvirtd"), f.lastIndexOf("virsh snapshot-create"))

	calls := f.host.Calls()
	assert.Contains(t, calls, "virsh domstats vm1")
	assert.Contains(t, calls, "virsh domblkinfo vm1 vda")
	assert.Contains(t, calls, "virsh snapshot-list vm1")
	assert.Greater(t, f.lastIndexOf("virsh snapshot-list vm1"), f.indexOf("systemctl restart libvirtd"))
	assert.Equal(t, 3, f.env.Tracker.Snapshot().Created)

	require.NoError(t, s.Teardown(ctx))
	assert.Empty(t, f.host.Snapshots())
	assert.False(t, f.host.Running())
	assert.Equal(t, original, f.inactiveSource(t))
	assert.Equal(t, "pristine", readFile(t, original))
	assert.Empty(t, f.warnings())
}

func TestStress_External(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "disk.qcow2")
	writeFile(t, original, "pristine")
	f := newStressFixture(t, original)
	s := f.stress(config.External, 2)

	require.NoError(t, harness.Run(context.Background(), f.log, s.Phases()))
	assert.Equal(t, []string{
		"virsh snapshot-create vm1 --disk-only --atomic",
		"virsh snapshot-create vm1 --disk-only --atomic",
	}, f.host.CallsWithPrefix("virsh snapshot-create vm1"))
	assert.Len(t, f.host.CallsWithPrefix("virsh snapshot-delete vm1 --current --metadata --children"), 2)
	assert.Empty(t, f.host.Snapshots())
	assert.Equal(t, original, f.inactiveSource(t))
}

func TestStress_ZeroCount(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "disk.qcow2")
	writeFile(t, original, "pristine")
	f := newStressFixture(t, original)
	s := f.stress(config.Internal, 0)

	require.NoError(t, harness.Run(context.Background(), f.log, s.Phases()))
	assert.Empty(t, f.host.CallsWithPrefix("virsh snapshot-create"))
	assert.Empty(t, f.sleeps)
	assert.Equal(t, 1, f.host.Restarts(), "restart and checks still run")
	assert.Contains(t, f.host.Calls(), "virsh domstats vm1")
}

func TestStress_ExtraOptionsAreAppended(t *testing.T) {
	f := newStressFixture(t, "/img/disk.qcow2")
	s := f.stress(config.External, 1, "--quiesce", "--description", "stress run")
	assert.Equal(t, []string{"--disk-only", "--atomic", "--quiesce", "--description", "stress run"}, s.CreateOptions())
	assert.Empty(t, f.stress(config.Internal, 1).CreateOptions())
}

func TestStress_CreateFailureNamesIteration(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "disk.qcow2")
	writeFile(t, original, "pristine")
	f := newStressFixture(t, original)
	f.host.FailAfter("virsh snapshot-create", 1)
	s := f.stress(config.Internal, 3)

	err := harness.Run(context.Background(), f.log, s.Phases())
	require.Error(t, err)
	assert.Equal(t, harness.Operation, harness.KindOf(err))
	assert.Contains(t, err.Error(), "snapshot 2/3")
	assert.Zero(t, f.host.Restarts())
	assert.Empty(t, f.host.Snapshots(), "the snapshot that was created is cleaned up")
	assert.Equal(t, original, f.inactiveSource(t))
}

func TestStress_CountMismatch(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "disk.qcow2")
	writeFile(t, original, "pristine")
	f := newStressFixture(t, original)
	s := f.stress(config.Internal, 2, "--no-metadata")

	err := harness.Run(context.Background(), f.log, s.Phases())
	require.Error(t, err)
	assert.Equal(t, harness.Operation, harness.KindOf(err))
	assert.Contains(t, err.Error(), "has 0 snapshots, want 2")
}

func TestStress_RestoresMissingDiskFromImages(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "gone", "disk.qcow2")
	writeFile(t, filepath.Join(dir, "gone", "placeholder"), "")
	f := newStressFixture(t, original)
	writeFile(t, filepath.Join(f.images, "disk.qcow2.backup"), "from backup")
	s := f.stress(config.Internal, 1)
	ctx := context.Background()

	require.NoError(t, s.Setup(ctx))
	moved := filepath.Join(f.workDir, "disk.qcow2")
	assert.Equal(t, "from backup", readFile(t, moved))
	assert.Contains(t, f.relabel.paths, moved)

	require.NoError(t, s.Teardown(ctx))
	assert.Equal(t, "from backup", readFile(t, original), "moved disk copied back")
}

func TestStress_DiskAlreadyInWorkDir(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	path := filepath.Join(workDir, "disk.qcow2")
	writeFile(t, path, "in place")
	f := newStressFixture(t, path)
	f.workDir = workDir
	s := f.stress(config.Internal, 1)

	require.NoError(t, harness.Run(context.Background(), f.log, s.Phases()))
	assert.Equal(t, "in place", readFile(t, path))
	assert.Empty(t, f.warnings())
}

func TestStress_ImageNotFoundIsPrecondition(t *testing.T) {
	f := newStressFixture(t, filepath.Join(t.TempDir(), "missing.qcow2"))
	s := f.stress(config.Internal, 1)

	err := harness.Run(context.Background(), f.log, s.Phases())
	require.Error(t, err)
	assert.Equal(t, harness.Precondition, harness.KindOf(err))
	assert.Contains(t, err.Error(), "missing.qcow2.backup")
	assert.Empty(t, f.host.CallsWithPrefix("virsh snapshot-create"))
	assert.False(t, f.host.Running())
}

func TestStress_UnknownTargetIsPrecondition(t *testing.T) {
	f := newStressFixture(t, "/img/disk.qcow2")
	s := f.stress(config.Internal, 1)
	s.cfg.TargetDev = "vdz"

	err := harness.Run(context.Background(), f.log, s.Phases())
	require.Error(t, err)
	assert.Equal(t, harness.Precondition, harness.KindOf(err))
	assert.Contains(t, err.Error(), "vdz")
}

type downRestarter struct {
	host  *fakevirsh.Host
	inner Restarter
}

func (r downRestarter) Restart(ctx context.Context) error {
	r.host.DownFor(5)
	return r.inner.Restart(ctx)
}

func TestStress_RestartNeverReady(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "disk.qcow2")
	writeFile(t, original, "pristine")
	f := newStressFixture(t, original)
	s := NewStress(f.stress(config.Internal, 1).cfg, f.env, downRestarter{host: f.host, inner: f.daemon}, f.relabel)

	err := harness.Run(context.Background(), f.log, s.Phases())
	require.Error(t, err)
	assert.Equal(t, harness.Operation, harness.KindOf(err))
	assert.Contains(t, err.Error(), "restart libvirtd")
	assert.NotContains(t, f.host.Calls(), "virsh domstats vm1")
}
