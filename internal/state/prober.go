// Package state reads and changes the configuration of the domain under
// test.
package state

import (
	"context"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
)

// Disk describes the backing store of one disk.
type Disk struct {
	Target string
	Path   string
	// Format is probed with qemu-img and empty when unknown.
	Format string
}

// FormatProber reports an image format. *qemu.Image satisfies it.
type FormatProber interface {
	Format(ctx context.Context, path string) string
}

// Prober reads the current configuration of a domain.
type Prober struct {
	vm    string
	virsh *libvirt.Virsh
	image FormatProber
	log   logrus.FieldLogger
}

// NewProber returns a Prober for vm.
func NewProber(vm string, virsh *libvirt.Virsh, image FormatProber, log logrus.FieldLogger) *Prober {
	return &Prober{vm: vm, virsh: virsh, image: image, log: log.WithField("vm", vm)}
}

// ListDiskTargets returns the target dev of every disk in the live XML, each
// once, in the order first seen.
func (p *Prober) ListDiskTargets(ctx context.Context) ([]string, error) {
	dom, err := p.liveDomain(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Uniq(libvirt.DiskTargets(dom)), nil
}

// ResolveDiskPath finds the backing path of target, first in the live XML
// and then in the inactive domblklist, which still lists disks that were
// detached from the running domain. Neither yielding a path is a
// precondition failure.
func (p *Prober) ResolveDiskPath(ctx context.Context, target string) (Disk, error) {
	path, err := p.livePath(ctx, target)
	if err != nil {
		return Disk{}, err
	}
	if path == "" {
		p.log.WithField("target", target).Debug("no source in live XML, trying inactive domblklist")
		if path, err = p.inactivePath(ctx, target); err != nil {
			return Disk{}, err
		}
	}
	if path == "" {
		return Disk{}, harness.Preconditionf(nil, "failed to find source path for target '%s' of %s", target, p.vm)
	}
	return Disk{Target: target, Path: path, Format: p.ProbeFormat(ctx, path)}, nil
}

// ProbeFormat returns the image format of path, or "" when it cannot be
// determined.
func (p *Prober) ProbeFormat(ctx context.Context, path string) string {
	return p.image.Format(ctx, path)
}

// DiskSources maps every disk target in the live XML to its backing path.
func (p *Prober) DiskSources(ctx context.Context) (map[string]string, error) {
	dom, err := p.liveDomain(ctx)
	if err != nil {
		return nil, err
	}
	sources := make(map[string]string)
	for _, target := range libvirt.DiskTargets(dom) {
		if _, seen := sources[target]; !seen {
			sources[target] = libvirt.DiskSourcePath(libvirt.FindDisk(dom, target))
		}
	}
	return sources, nil
}

func (p *Prober) liveDomain(ctx context.Context) (*libvirtxml.Domain, error) {
	doc, err := p.virsh.DumpXML(ctx, p.vm, false)
	if err != nil {
		return nil, harness.Operationf(err, "dump XML of %s", p.vm)
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return nil, harness.Operationf(err, "read XML of %s", p.vm)
	}
	return dom, nil
}

func (p *Prober) livePath(ctx context.Context, target string) (string, error) {
	dom, err := p.liveDomain(ctx)
	if err != nil {
		return "", err
	}
	return libvirt.DiskSourcePath(libvirt.FindDisk(dom, target)), nil
}

func (p *Prober) inactivePath(ctx context.Context, target string) (string, error) {
	devs, err := p.virsh.DomBlkList(ctx, p.vm, true)
	if err != nil {
		return "", harness.Operationf(err, "virsh domblklist --details --inactive")
	}
	for _, d := range devs {
		if d.Target == target {
			return d.Source, nil
		}
	}
	return "", nil
}
