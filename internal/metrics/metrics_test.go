package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/testutils/fakevirsh"
)

func TestHarnessCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHarness(reg)

	h.SnapshotCreated("vm1", "internal", 100*time.Millisecond)
	h.SnapshotCreated("vm1", "internal", 200*time.Millisecond)
	h.SnapshotDeleted("vm1")
	h.BestEffortFailed("vm1", "restore_disk_placement")
	h.RunFinished("vm1", "stress", "pass")

	assert.Equal(t, 2.0, testutil.ToFloat64(h.snapshotsCreated.WithLabelValues("vm1", "internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.snapshotsDeleted.WithLabelValues("vm1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.bestEffortFailed.WithLabelValues("vm1", "restore_disk_placement")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.runs.WithLabelValues("vm1", "stress", "pass")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.snapshotSeconds))
}

func TestHarness_Nil(t *testing.T) {
	var h *Harness
	assert.NotPanics(t, func() {
		h.SnapshotCreated("vm1", "internal", time.Second)
		h.SnapshotDeleted("vm1")
		h.BestEffortFailed("vm1", "x")
		h.RunFinished("vm1", "stress", "pass")
	})
}

func TestSnapshotCollector(t *testing.T) {
	log, _ := test.NewNullLogger()
	host := fakevirsh.New(t, "vm1", fakevirsh.DomainXML("vm1"))
	host.AddSnapshots(3)
	c := NewSnapshotCollector("vm1", libvirt.NewVirsh(host, "virsh"), log)

	err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP libvirt_domain_snapshots Snapshots with metadata on the domain
# TYPE libvirt_domain_snapshots gauge
libvirt_domain_snapshots{domain="vm1"} 3
`))
	require.NoError(t, err)

	host.FailAfter("virsh snapshot-list", 0)
	assert.Equal(t, 0, testutil.CollectAndCount(c), "listing failure yields no sample")
}

func TestSnapshotCollector_Registers(t *testing.T) {
	log, _ := test.NewNullLogger()
	host := fakevirsh.New(t, "vm1", fakevirsh.DomainXML("vm1"))
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewSnapshotCollector("vm1", libvirt.NewVirsh(host, "virsh"), log)))
}
