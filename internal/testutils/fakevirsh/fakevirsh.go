// Package fakevirsh provides a cmdutil.Runner that emulates the parts of a
// libvirt host the snapshot harness talks to: virsh, qemu-img and systemctl.
// It keeps one domain with a persistent and a live XML document and a stack
// of snapshots, so tests can assert on end state instead of on argv.
//
//	host := fakevirsh.New(t, "vm1", fakevirsh.DomainXML("vm1", fakevirsh.FileDisk("vda", "/img/a.qcow2")))
//	v := libvirt.NewVirsh(host, "virsh")
//	_, err := v.SnapshotCreate(ctx, "vm1")
//	require.NoError(t, err)
//	assert.Len(t, host.Snapshots(), 1)
package fakevirsh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"libvirt.org/go/libvirtxml"

	"snapshot-harness/internal/cmdutil"
)

// Host is a fake libvirt host. The zero value is not usable; call New.
type Host struct {
	t    *testing.T
	mu   sync.Mutex
	name string

	inactive string
	live     string
	running  bool

	snapshots []snapshot
	seq       int

	restarts  int
	downCalls int

	fails map[string]int
	calls []string
	count map[string]int
}

type snapshot struct {
	name string
	xml  string
}

// New returns a host with one shut off domain defined from doc.
func New(t *testing.T, name, doc string) *Host {
	return &Host{
		t:        t,
		name:     name,
		inactive: doc,
		fails:    make(map[string]int),
		count:    make(map[string]int),
	}
}

// FileDisk renders a file backed <disk> element.
func FileDisk(target, path string) string {
	return fmt.Sprintf(`<disk type="file" device="disk"><driver name="qemu" type="qcow2"></driver>`+
		`<source file="%s"></source><target dev="%s" bus="virtio"></target></disk>`, path, target)
}

// BlockDisk renders a block device backed <disk> element.
func BlockDisk(target, dev string) string {
	return fmt.Sprintf(`<disk type="block" device="disk"><source dev="%s"></source>`+
		`<target dev="%s" bus="virtio"></target></disk>`, dev, target)
}

// EmptyCdrom renders a cdrom <disk> with no media.
func EmptyCdrom(target string) string {
	return fmt.Sprintf(`<disk type="file" device="cdrom"><target dev="%s" bus="sata"></target></disk>`, target)
}

// DomainXML renders a minimal domain document containing the given devices.
func DomainXML(name string, devices ...string) string {
	return fmt.Sprintf(`<domain type="kvm"><name>%s</name><memory unit="KiB">1048576</memory>`+
		`<devices>%s</devices></domain>`, name, strings.Join(devices, ""))
}

// FailAfter makes the command identified by key fail once it has succeeded n
// times. key is the binary base name, optionally followed by the first
// argument: "virsh snapshot-create", "qemu-img", "systemctl".
func (h *Host) FailAfter(key string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fails[key] = n
}

// DownFor makes the next n virsh calls after a restart fail, as a daemon that
// is still coming up would.
func (h *Host) DownFor(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downCalls = n
}

// SetRunning sets the domain state directly.
func (h *Host) SetRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
	if running {
		h.live = h.inactive
	}
}

// Running reports whether the domain is running.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// InactiveXML returns the persistent domain document.
func (h *Host) InactiveXML() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inactive
}

// LiveXML returns the document dumpxml would print without --inactive.
func (h *Host) LiveXML() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveLocked()
}

// AddSnapshots pushes n snapshots onto the stack.
func (h *Host) AddSnapshots(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < n; i++ {
		h.pushLocked("")
	}
}

// Snapshots returns the names of the snapshots with metadata, oldest first.
func (h *Host) Snapshots() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.snapshots))
	for _, s := range h.snapshots {
		names = append(names, s.name)
	}
	return names
}

// Restarts returns how many times the service was restarted.
func (h *Host) Restarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restarts
}

// Calls returns every command run so far, space joined.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// CallsWithPrefix returns the commands that start with prefix.
func (h *Host) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range h.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Run implements cmdutil.Runner.
func (h *Host) Run(ctx context.Context, name string, args ...string) (cmdutil.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bin := filepath.Base(name)
	argv := append([]string{bin}, args...)
	h.calls = append(h.calls, strings.Join(argv, " "))

	key := bin
	if len(args) > 0 && bin == "virsh" {
		key = bin + " " + args[0]
	}

	var res cmdutil.Result
	switch {
	case h.shouldFail(key):
		res = failed("error: injected failure for %s", key)
	case bin == "virsh" && h.downCalls > 0:
		h.downCalls--
		res = failed("error: failed to connect to the hypervisor")
	case bin == "virsh":
		res = h.virsh(args)
	case bin == "qemu-img":
		res = h.qemuImg(args)
	case bin == "systemctl":
		if len(args) > 0 && args[0] == "restart" {
			h.restarts++
		}
	default:
		res = failed("%s: command not found", bin)
		res.ExitStatus = 127
	}

	if res.ExitStatus != 0 {
		return res, &cmdutil.CommandError{
			Args:       append([]string{name}, args...),
			ExitStatus: res.ExitStatus,
			Stderr:     res.Stderr,
			Err:        fmt.Errorf("exit status %d", res.ExitStatus),
		}
	}
	return res, nil
}

func (h *Host) shouldFail(key string) bool {
	n, ok := h.fails[key]
	if !ok {
		return false
	}
	h.count[key]++
	return h.count[key] > n
}

func failed(format string, a ...any) cmdutil.Result {
	return cmdutil.Result{Stderr: fmt.Sprintf(format, a...), ExitStatus: 1}
}

func ok(format string, a ...any) cmdutil.Result {
	return cmdutil.Result{Stdout: fmt.Sprintf(format, a...)}
}

func has(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func (h *Host) liveLocked() string {
	if h.running {
		return h.live
	}
	return h.inactive
}

func (h *Host) domain(live bool) *libvirtxml.Domain {
	doc := h.inactive
	if live {
		doc = h.liveLocked()
	}
	var dom libvirtxml.Domain
	if err := dom.Unmarshal(doc); err != nil {
		h.t.Fatalf("fakevirsh: bad domain XML: %v", err)
	}
	return &dom
}

func (h *Host) marshal(dom *libvirtxml.Domain) string {
	doc, err := dom.Marshal()
	if err != nil {
		h.t.Fatalf("fakevirsh: marshal: %v", err)
	}
	return doc
}

func (h *Host) virsh(args []string) cmdutil.Result {
	if len(args) == 0 {
		return failed("error: no command")
	}
	sub, rest := args[0], args[1:]
	if sub == "version" {
		return ok("Running hypervisor: QEMU 8.2.0\n")
	}
	if sub == "define" {
		return h.define(rest)
	}
	if len(rest) == 0 || rest[0] != h.name {
		return failed("error: failed to get domain '%s'", strings.Join(rest, " "))
	}
	opts := rest[1:]

	switch sub {
	case "dominfo":
		state := "shut off"
		if h.running {
			state = "running"
		}
		return ok("Id:             1\nName:           %s\nState:          %s\n", h.name, state)
	case "start":
		if h.running {
			return failed("error: Domain is already active")
		}
		h.running = true
		h.live = h.inactive
		return ok("Domain '%s' started\n", h.name)
	case "destroy":
		if !h.running {
			return failed("error: domain is not running")
		}
		h.running = false
		return ok("Domain '%s' destroyed\n", h.name)
	case "dumpxml":
		return ok("%s", h.marshal(h.domain(!has(opts, "--inactive"))))
	case "domblklist":
		return h.domblklist(opts)
	case "domblkinfo":
		if len(opts) == 0 || findDisk(h.domain(true), opts[0]) == nil {
			return failed("error: invalid argument: invalid path")
		}
		return ok("Capacity:       10737418240\nAllocation:     1048576\nPhysical:       1048576\n")
	case "domstats":
		state := 5
		if h.running {
			state = 1
		}
		return ok("Domain: '%s'\n  state.state=%d\n  state.reason=1\n", h.name, state)
	case "snapshot-create", "snapshot-create-as":
		return h.snapshotCreate(opts)
	case "snapshot-current":
		if len(h.snapshots) == 0 {
			return failed("error: domain '%s' has no current snapshot", h.name)
		}
		return ok("%s\n", h.snapshots[len(h.snapshots)-1].name)
	case "snapshot-delete":
		if has(opts, "--current") && len(h.snapshots) > 0 {
			h.snapshots = h.snapshots[:len(h.snapshots)-1]
			return ok("Domain snapshot deleted\n")
		}
		for i, s := range h.snapshots {
			if len(opts) > 0 && s.name == opts[0] {
				h.snapshots = append(h.snapshots[:i], h.snapshots[i+1:]...)
				return ok("Domain snapshot %s deleted\n", s.name)
			}
		}
		return failed("error: no snapshot to delete")
	case "snapshot-list":
		var b strings.Builder
		if !has(opts, "--name") {
			b.WriteString(" Name   Creation Time   State\n---------------------------------\n")
		}
		for _, s := range h.snapshots {
			b.WriteString(s.name + "\n")
		}
		return ok("%s", b.String())
	case "snapshot-dumpxml":
		for _, s := range h.snapshots {
			if len(opts) > 0 && s.name == opts[0] {
				return ok("%s", s.xml)
			}
		}
		return failed("error: snapshot not found")
	case "qemu-agent-command":
		if !h.running {
			return failed("error: Guest agent is not responding")
		}
		return ok(`{"return":{}}`)
	}
	return failed("error: unknown command '%s'", sub)
}

func (h *Host) define(args []string) cmdutil.Result {
	if len(args) == 0 {
		return failed("error: command 'define' requires <file> option")
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return failed("error: Failed to open file '%s': %v", args[0], err)
	}
	var dom libvirtxml.Domain
	if err := dom.Unmarshal(string(b)); err != nil {
		return failed("error: XML error: %v", err)
	}
	if dom.Name != h.name {
		return failed("error: domain '%s' is not the one under test", dom.Name)
	}
	h.inactive = string(b)
	return ok("Domain '%s' defined from %s\n", h.name, args[0])
}

func (h *Host) domblklist(opts []string) cmdutil.Result {
	dom := h.domain(!has(opts, "--inactive"))
	var b strings.Builder
	b.WriteString(" Type   Device   Target   Source\n------------------------------------------------\n")
	if dom.Devices != nil {
		for _, d := range dom.Devices.Disks {
			if d.Target == nil {
				continue
			}
			typ, src := "file", "-"
			if d.Source != nil && d.Source.File != nil {
				src = d.Source.File.File
			}
			if d.Source != nil && d.Source.Block != nil {
				typ, src = "block", d.Source.Block.Dev
			}
			fmt.Fprintf(&b, " %s   %s   %s   %s\n", typ, d.Device, d.Target.Dev, src)
		}
	}
	return ok("%s", b.String())
}

// snapshotCreate emulates both create commands. Disks not excluded by
// --diskspec or snapshot='no' get an external overlay when --memspec or
// --disk-only is used, which is how a memory-only snapshot that forgot a disk
// shows up on a real host.
func (h *Host) snapshotCreate(opts []string) cmdutil.Result {
	var memFile string
	excluded := make(map[string]bool)
	for i := 0; i < len(opts)-1; i++ {
		switch opts[i] {
		case "--memspec":
			memFile = strings.ReplaceAll(strings.TrimPrefix(opts[i+1], "file="), ",,", ",")
		case "--diskspec":
			dev, spec, _ := strings.Cut(opts[i+1], ",")
			if spec == "snapshot=no" {
				excluded[dev] = true
			}
		}
	}
	external := memFile != "" || has(opts, "--disk-only")
	if external && !h.running && memFile != "" {
		return failed("error: live snapshot requires a running domain")
	}

	dom := h.domain(true)
	var snapDisks []libvirtxml.DomainSnapshotDisk
	if dom.Devices != nil {
		for i := range dom.Devices.Disks {
			d := &dom.Devices.Disks[i]
			if d.Device == "cdrom" || d.Target == nil {
				continue
			}
			mode := "internal"
			if excluded[d.Target.Dev] || d.Snapshot == "no" {
				mode = "no"
			} else if external && d.Source != nil && d.Source.File != nil {
				mode = "external"
				d.Source.File.File += fmt.Sprintf(".snap%d", h.seq+1)
			}
			snapDisks = append(snapDisks, libvirtxml.DomainSnapshotDisk{Name: d.Target.Dev, Snapshot: mode})
		}
	}
	if external {
		doc := h.marshal(dom)
		if h.running {
			h.live = doc
		} else {
			h.inactive = doc
		}
	}

	if memFile != "" {
		if err := os.WriteFile(memFile, []byte("guest memory"), 0o600); err != nil {
			return failed("error: cannot write memory file: %v", err)
		}
	}

	snap := libvirtxml.DomainSnapshot{
		Disks: &libvirtxml.DomainSnapshotDisks{Disks: snapDisks},
	}
	if memFile != "" {
		snap.Memory = &libvirtxml.DomainSnapshotMemory{Snapshot: "external", File: memFile}
	}
	name := h.pushLocked("")
	if has(opts, "--no-metadata") {
		h.snapshots = h.snapshots[:len(h.snapshots)-1]
		return ok("Domain snapshot %s created\n", name)
	}
	snap.Name = name
	doc, err := snap.Marshal()
	if err != nil {
		h.t.Fatalf("fakevirsh: marshal snapshot: %v", err)
	}
	h.snapshots[len(h.snapshots)-1].xml = doc
	return ok("Domain snapshot %s created\n", name)
}

func (h *Host) pushLocked(doc string) string {
	h.seq++
	name := fmt.Sprintf("%d", 1700000000+h.seq)
	h.snapshots = append(h.snapshots, snapshot{name: name, xml: doc})
	return name
}

func (h *Host) qemuImg(args []string) cmdutil.Result {
	if len(args) == 0 || args[0] != "info" {
		return failed("qemu-img: unsupported")
	}
	path := args[len(args)-1]
	if _, err := os.Stat(path); err != nil {
		return failed("qemu-img: Could not open '%s': No such file or directory", path)
	}
	return ok("image: %s\nfile format: qcow2\nvirtual size: 10 GiB (10737418240 bytes)\n", path)
}

func findDisk(dom *libvirtxml.Domain, target string) *libvirtxml.DomainDisk {
	if dom.Devices == nil {
		return nil
	}
	for i := range dom.Devices.Disks {
		if d := &dom.Devices.Disks[i]; d.Target != nil && d.Target.Dev == target {
			return d
		}
	}
	return nil
}
