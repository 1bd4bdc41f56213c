package libvirt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshot-harness/internal/testutils/fakevirsh"
)

func testDomain(t *testing.T) string {
	t.Helper()
	return fakevirsh.DomainXML("vm1",
		fakevirsh.FileDisk("vda", "/img/root.qcow2"),
		fakevirsh.BlockDisk("vdb", "/dev/sdb"),
		fakevirsh.EmptyCdrom("sda"),
	)
}

func TestDiskTargetsAndSources(t *testing.T) {
	dom, err := ParseDomainXML(testDomain(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"vda", "vdb", "sda"}, DiskTargets(dom))
	assert.Equal(t, "/img/root.qcow2", DiskSourcePath(FindDisk(dom, "vda")))
	assert.Equal(t, "/dev/sdb", DiskSourcePath(FindDisk(dom, "vdb")))
	assert.Equal(t, "", DiskSourcePath(FindDisk(dom, "sda")))
	assert.Nil(t, FindDisk(dom, "vdz"))
}

func TestSetDiskSnapshot_Idempotent(t *testing.T) {
	dom, err := ParseDomainXML(testDomain(t))
	require.NoError(t, err)

	changed, err := SetDiskSnapshot(dom, "vda", "no")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = SetDiskSnapshot(dom, "vda", "no")
	require.NoError(t, err)
	assert.False(t, changed)

	doc, err := MarshalDomainXML(dom)
	require.NoError(t, err)
	again, err := ParseDomainXML(doc)
	require.NoError(t, err)
	assert.Len(t, again.Devices.Disks, 3)
	assert.Equal(t, "no", DiskSnapshotModes(again)["vda"])
	assert.Equal(t, "", DiskSnapshotModes(again)["vdb"])

	_, err = SetDiskSnapshot(dom, "vdz", "no")
	assert.ErrorIs(t, err, ErrNoSuchDisk)
}

func TestSetDiskFileSource(t *testing.T) {
	dom, err := ParseDomainXML(testDomain(t))
	require.NoError(t, err)

	changed, err := SetDiskFileSource(dom, "vdb", "/work/data.img")
	require.NoError(t, err)
	assert.True(t, changed)

	d := FindDisk(dom, "vdb")
	require.NotNil(t, d.Source.File)
	assert.Nil(t, d.Source.Block)
	assert.Equal(t, "/work/data.img", DiskSourcePath(d))

	changed, err = SetDiskFileSource(dom, "vdb", "/work/data.img")
	require.NoError(t, err)
	assert.False(t, changed)

	doc, err := MarshalDomainXML(dom)
	require.NoError(t, err)
	assert.Contains(t, doc, `type="file"`)
	assert.NotContains(t, doc, `/dev/sdb`)
}

func TestParseSnapshotXML(t *testing.T) {
	snap, err := ParseSnapshotXML(`<domainsnapshot><name>s1</name><memory snapshot="external" file="/tmp/m"/>` +
		`<disks><disk name="vda" snapshot="no"/></disks></domainsnapshot>`)
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.Name)
	assert.Equal(t, "external", snap.Memory.Snapshot)
	require.Len(t, snap.Disks.Disks, 1)
	assert.Equal(t, "no", snap.Disks.Disks[0].Snapshot)

	_, err = ParseSnapshotXML("<domainsnapshot>")
	assert.Error(t, err)
}
