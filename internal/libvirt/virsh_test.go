package libvirt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshot-harness/internal/cmdutil"
	"snapshot-harness/internal/testutils/fakevirsh"
)

func TestVirshSnapshots(t *testing.T) {
	ctx := context.Background()
	host := fakevirsh.New(t, "vm1", testDomain(t))
	v := NewVirsh(host, "")

	cur, err := v.SnapshotCurrentName(ctx, "vm1")
	assert.Error(t, err, "no current snapshot is a non-zero exit")
	assert.Empty(t, cur)

	for i := 0; i < 3; i++ {
		_, err := v.SnapshotCreate(ctx, "vm1")
		require.NoError(t, err)
	}
	names, err := v.SnapshotNames(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, host.Snapshots(), names)

	cur, err = v.SnapshotCurrentName(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, names[2], cur)

	require.NoError(t, v.SnapshotDelete(ctx, "vm1", "--current"))
	assert.Len(t, host.Snapshots(), 2)

	doc, err := v.SnapshotDumpXML(ctx, "vm1", "")
	require.NoError(t, err)
	snap, err := ParseSnapshotXML(doc)
	require.NoError(t, err)
	assert.Equal(t, names[1], snap.Name)
}

func TestVirshMemSpecAndDiskSpec(t *testing.T) {
	assert.Equal(t, []string{"--memspec", "file=/tmp/vm.mem"}, MemSpec("/tmp/vm.mem"))
	assert.Equal(t, []string{"--diskspec", "vda,snapshot=no"}, DiskSpecNoSnapshot("vda"))
	assert.Equal(t, []string{"--memspec", "file=/tmp/a,,b/vm.mem"}, MemSpec("/tmp/a,b/vm.mem"))
	assert.Equal(t, []string{"--diskspec", "/img/x,,y.qcow2,snapshot=no"}, DiskSpecNoSnapshot("/img/x,y.qcow2"))
}

func TestVirshDomBlkList(t *testing.T) {
	host := fakevirsh.New(t, "vm1", testDomain(t))
	v := NewVirsh(host, "/usr/bin/virsh")

	devs, err := v.DomBlkList(context.Background(), "vm1", true)
	require.NoError(t, err)
	require.Len(t, devs, 3)
	assert.Equal(t, BlkDevice{Type: "block", Device: "disk", Target: "vdb", Source: "/dev/sdb"}, devs[1])
	assert.Equal(t, []string{"virsh domblklist vm1 --details --inactive"}, host.CallsWithPrefix("virsh domblklist"))
}

func TestVirshDefineXML(t *testing.T) {
	ctx := context.Background()
	host := fakevirsh.New(t, "vm1", testDomain(t))
	v := NewVirsh(host, "virsh")
	dir := t.TempDir()

	doc := fakevirsh.DomainXML("vm1", fakevirsh.FileDisk("vda", "/elsewhere.qcow2"))
	require.NoError(t, v.DefineXML(ctx, dir, "vm1", doc))
	assert.Equal(t, doc, host.InactiveXML())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary XML file is removed")

	err = v.DefineXML(ctx, filepath.Join(dir, "missing"), "vm1", doc)
	assert.Error(t, err)
}

func TestVirshCommandErrorNamesCommand(t *testing.T) {
	host := fakevirsh.New(t, "vm1", testDomain(t))
	host.FailAfter("virsh domstats", 0)
	v := NewVirsh(host, "virsh")

	_, err := v.DomStats(context.Background(), "vm1")
	var cmdErr *cmdutil.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitStatus)
	assert.Contains(t, err.Error(), "virsh domstats vm1")
	assert.Contains(t, err.Error(), "rc=1")
}

func TestLookupDomain(t *testing.T) {
	ctx := context.Background()
	host := fakevirsh.New(t, "vm1", testDomain(t))
	v := NewVirsh(host, "virsh")

	_, err := LookupDomain(ctx, v, "nope")
	assert.ErrorIs(t, err, ErrDomainNotFound)

	dom, err := LookupDomain(ctx, v, "vm1")
	require.NoError(t, err)
	assert.Equal(t, "vm1", dom.Name())

	alive, err := dom.IsAlive(ctx)
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, dom.Start(ctx))
	alive, err = dom.IsAlive(ctx)
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, v.QemuAgentPing(ctx, "vm1"))
	require.NoError(t, dom.Destroy(ctx))
	assert.False(t, host.Running())
}

func TestDialDomain_NoSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "libvirt-sock")
	_, err := DialDomain(socket, "vm1", 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), socket)
}
