package scenario

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"snapshot-harness/internal/libvirt"
	"snapshot-harness/internal/metrics"
	"snapshot-harness/internal/qemu"
	"snapshot-harness/internal/status"
	"snapshot-harness/internal/testutils/fakevirsh"
)

type fixture struct {
	host   *fakevirsh.Host
	virsh  *libvirt.Virsh
	env    *Env
	log    *logrus.Logger
	hook   *test.Hook
	dir    string
	sleeps []time.Duration
}

func newFixture(t *testing.T, doc string) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	host := fakevirsh.New(t, "vm1", doc)
	v := libvirt.NewVirsh(host, "virsh")
	dom, err := libvirt.LookupDomain(context.Background(), v, "vm1")
	require.NoError(t, err)

	f := &fixture{host: host, virsh: v, log: log, hook: hook, dir: t.TempDir()}
	f.env = NewEnv("vm1", f.dir, v, dom, qemu.NewImage(host, "qemu-img", log),
		metrics.NewHarness(prometheus.NewRegistry()), status.NewTracker("test", "vm1"), log)
	f.env.PollAttempts = 3
	f.env.PollDelay = 0
	f.env.Sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

// indexOf returns the position of the first call starting with prefix, or -1.
func (f *fixture) indexOf(prefix string) int {
	for i, c := range f.host.Calls() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func (f *fixture) lastIndexOf(prefix string) int {
	idx := -1
	for i, c := range f.host.Calls() {
		if strings.HasPrefix(c, prefix) {
			idx = i
		}
	}
	return idx
}

func (f *fixture) warnings() []string {
	var out []string
	for _, e := range f.hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
