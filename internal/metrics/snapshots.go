package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// SnapshotLister is satisfied by *libvirt.Virsh.
type SnapshotLister interface {
	SnapshotNames(ctx context.Context, domainName string) ([]string, error)
}

// SnapshotCollector reports how many snapshots the domain under test has,
// queried from libvirt on every scrape.
type SnapshotCollector struct {
	domain  string
	lister  SnapshotLister
	log     logrus.FieldLogger
	timeout time.Duration
	count   *prometheus.Desc
}

func NewSnapshotCollector(domain string, lister SnapshotLister, log logrus.FieldLogger) *SnapshotCollector {
	return &SnapshotCollector{
		domain:  domain,
		lister:  lister,
		log:     log,
		timeout: 10 * time.Second,
		count: prometheus.NewDesc(
			"libvirt_domain_snapshots",
			"Snapshots with metadata on the domain",
			[]string{"domain"},
			nil,
		),
	}
}

func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
}

func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	names, err := c.lister.SnapshotNames(ctx, c.domain)
	if err != nil {
		c.log.WithError(err).Debug("error listing snapshots for metrics")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(len(names)), c.domain)
}
