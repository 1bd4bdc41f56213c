package libvirt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlkList(t *testing.T) {
	out := ` Type   Device   Target   Source
------------------------------------------------------------------
 file   disk     vda      /var/lib/libvirt/images/guest.qcow2
 block  disk     vdb      /dev/mapper/vg-data
 file   cdrom    sda      -
 file   disk     vdc      /srv/images/with space.img

`
	want := []BlkDevice{
		{Type: "file", Device: "disk", Target: "vda", Source: "/var/lib/libvirt/images/guest.qcow2"},
		{Type: "block", Device: "disk", Target: "vdb", Source: "/dev/mapper/vg-data"},
		{Type: "file", Device: "cdrom", Target: "sda", Source: ""},
		{Type: "file", Device: "disk", Target: "vdc", Source: "/srv/images/with space.img"},
	}
	if diff := cmp.Diff(want, ParseBlkList(out)); diff != "" {
		t.Errorf("ParseBlkList() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBlkList_SkipsShortRows(t *testing.T) {
	assert.Empty(t, ParseBlkList("Type Device Target Source\n file disk vda\n"))
	assert.Empty(t, ParseBlkList(""))
}

func TestParseDomainStatus(t *testing.T) {
	status, err := ParseDomainStatus("Id:             3\nName:           vm1\nState:          shut off\n")
	require.NoError(t, err)
	assert.Equal(t, "shut off", status)

	_, err = ParseDomainStatus("Id: 3\n")
	assert.Error(t, err)
}

func TestParseDomStats(t *testing.T) {
	stats := ParseDomStats("Domain: 'vm1'\n  state.state=1\n  block.count=2\n\n")
	assert.Equal(t, map[string]string{"state.state": "1", "block.count": "2"}, stats)
}

func TestParseBlkInfo(t *testing.T) {
	info := ParseBlkInfo("Capacity:       10737418240\nAllocation:     200704\nPhysical:       bogus\n")
	assert.Equal(t, map[string]uint64{"capacity": 10737418240, "allocation": 200704}, info)
}
