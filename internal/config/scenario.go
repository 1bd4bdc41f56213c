package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Strategy selects how a memory-only snapshot excludes the disks.
type Strategy string

const (
	// StrategyDiskSpec passes --diskspec <dev>,snapshot=no for every disk.
	StrategyDiskSpec Strategy = "diskspec"
	// StrategyXML sets snapshot='no' on every disk in the domain XML first.
	StrategyXML Strategy = "xml"
)

// SnapshotKind is the kind of snapshot the stress loop creates.
type SnapshotKind string

const (
	Internal SnapshotKind = "internal"
	External SnapshotKind = "external"
)

// Backend selects how the VM handle talks to libvirt.
type Backend string

const (
	BackendVirsh Backend = "virsh"
	BackendRPC   Backend = "rpc"
)

// ErrMissingParam is returned when a required parameter is absent.
var ErrMissingParam = errors.New("missing required param")

// Common are the settings both scenarios share.
type Common struct {
	VMName        string
	WorkDir       string
	LockDir       string
	QemuImg       string
	Virsh         string
	Backend       Backend
	Socket        string
	StatusListen  string
	StatusToken   string
	WebhookURL    string
	WaitGuestPing bool
}

// MemOnly configures the memory-only snapshot scenario.
type MemOnly struct {
	Common
	MemFile      string
	Strategy     Strategy
	KeepMetadata bool
}

// Stress configures the snapshot stress scenario.
type Stress struct {
	Common
	Kind         SnapshotKind
	Count        int
	Interval     time.Duration
	ExtraOptions []string
	TargetDev    string
	ImagesDir    string
	Service      string
	Settle       time.Duration
}

func (p Params) common(defaultWorkDir string) (Common, error) {
	c := Common{
		VMName:        p.Get("main_vm", ""),
		WorkDir:       p.Get("work_dir", defaultWorkDir),
		LockDir:       p.Get("lock_dir", os.TempDir()),
		QemuImg:       p.Get("qemu_img_binary", "/usr/bin/qemu-img"),
		Virsh:         p.Get("virsh_binary", "virsh"),
		Backend:       Backend(strings.ToLower(p.Get("domain_backend", string(BackendVirsh)))),
		Socket:        p.Get("libvirt_socket", "/var/run/libvirt/libvirt-sock"),
		StatusListen:  p.Get("status_listen", ""),
		StatusToken:   p.Get("status_token", ""),
		WebhookURL:    p.Get("webhook_url", ""),
		WaitGuestPing: p.Bool("wait_guest_agent", false),
	}
	if c.VMName == "" {
		return c, fmt.Errorf("%w: main_vm", ErrMissingParam)
	}
	if c.Backend != BackendVirsh && c.Backend != BackendRPC {
		return c, fmt.Errorf("param domain_backend=%q must be virsh or rpc", c.Backend)
	}
	return c, nil
}

// MemOnlyConfig builds the memory-only scenario settings. now is used for the
// default memory file name.
func (p Params) MemOnlyConfig(now time.Time) (MemOnly, error) {
	c, err := p.common("/tmp")
	if err != nil {
		return MemOnly{}, err
	}
	cfg := MemOnly{
		Common:       c,
		MemFile:      p.Get("mem_file", filepath.Join(c.WorkDir, fmt.Sprintf("%s-%d.mem", c.VMName, now.Unix()))),
		Strategy:     StrategyDiskSpec,
		KeepMetadata: p.Bool("keep_metadata", false),
	}

	variant := p.Get("variant", "")
	if variant == "" {
		variant = p.Get("case", "")
	}
	if variant == "" {
		variant = p.Get("scenario", "")
	}
	if p.Bool("set_snapshot_no_in_xml", false) || strings.Contains(variant, "xml_snapshot_no") {
		cfg.Strategy = StrategyXML
	}
	return cfg, nil
}

// StressConfig builds the stress scenario settings.
func (p Params) StressConfig() (Stress, error) {
	c, err := p.common("/home/libvirt-work")
	if err != nil {
		return Stress{}, err
	}
	cfg := Stress{
		Common:    c,
		Kind:      SnapshotKind(strings.ToLower(strings.TrimSpace(p.Get("snapshot_type", string(Internal))))),
		TargetDev: p.Get("target_dev", "vda"),
		ImagesDir: p.Get("images_dir", "/var/lib/avocado/data/avocado-vt/images"),
		Service:   p.Get("libvirt_service", "libvirtd"),
	}
	if cfg.Kind != Internal && cfg.Kind != External {
		return cfg, fmt.Errorf("param snapshot_type=%q must be internal or external", cfg.Kind)
	}
	if cfg.Count, err = p.Int("snapshot_count", 250); err != nil {
		return cfg, err
	}
	if cfg.Count < 0 {
		return cfg, fmt.Errorf("param snapshot_count=%d must not be negative", cfg.Count)
	}
	if cfg.Interval, err = p.Duration("snapshot_interval", time.Second); err != nil {
		return cfg, err
	}
	if cfg.Settle, err = p.Duration("service_settle", 2*time.Second); err != nil {
		return cfg, err
	}
	if extra := p.Get("snapshot_extra_options", ""); extra != "" {
		if cfg.ExtraOptions, err = shellwords.Parse(extra); err != nil {
			return cfg, fmt.Errorf("param snapshot_extra_options: %w", err)
		}
	}
	return cfg, nil
}
