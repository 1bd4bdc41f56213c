package state

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/libvirt"
)

// Mutator edits the persistent domain XML. Changes take effect the next time
// the domain starts.
type Mutator struct {
	vm    string
	dir   string
	virsh *libvirt.Virsh
	log   logrus.FieldLogger
}

// NewMutator returns a Mutator for vm that stages XML files in dir.
func NewMutator(vm, dir string, virsh *libvirt.Virsh, log logrus.FieldLogger) *Mutator {
	return &Mutator{vm: vm, dir: dir, virsh: virsh, log: log.WithField("vm", vm)}
}

// MarkDiskUnsnapshotted sets snapshot='no' on target so later snapshots skip
// it.
func (m *Mutator) MarkDiskUnsnapshotted(ctx context.Context, target string) error {
	return m.modify(ctx, target, func(dom *libvirtxml.Domain) (bool, error) {
		return libvirt.SetDiskSnapshot(dom, target, "no")
	})
}

// RetargetDisk points target at the file newPath.
func (m *Mutator) RetargetDisk(ctx context.Context, target, newPath string) error {
	return m.modify(ctx, target, func(dom *libvirtxml.Domain) (bool, error) {
		return libvirt.SetDiskFileSource(dom, target, newPath)
	})
}

// modify applies edit to the inactive XML and defines the result. An edit
// that changes nothing is not defined again.
func (m *Mutator) modify(ctx context.Context, target string, edit func(*libvirtxml.Domain) (bool, error)) error {
	doc, err := m.virsh.DumpXML(ctx, m.vm, true)
	if err != nil {
		return harness.Operationf(err, "dump inactive XML of %s", m.vm)
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return harness.Operationf(err, "read inactive XML of %s", m.vm)
	}

	changed, err := edit(dom)
	if errors.Is(err, libvirt.ErrNoSuchDisk) {
		return harness.Preconditionf(err, "modify disk of %s", m.vm)
	}
	if err != nil {
		return harness.Operationf(err, "modify disk %s of %s", target, m.vm)
	}
	log := m.log.WithField("target", target)
	if !changed {
		log.Debug("disk already configured")
		return nil
	}

	out, err := libvirt.MarshalDomainXML(dom)
	if err != nil {
		return harness.Operationf(err, "write XML of %s", m.vm)
	}
	if err := m.virsh.DefineXML(ctx, m.dir, m.vm, out); err != nil {
		return harness.Operationf(err, "define %s", m.vm)
	}
	log.Info("disk configuration updated")
	return nil
}
