package libvirt

import (
	"errors"
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// ErrNoSuchDisk is returned when a domain has no <disk> with the requested
// target device.
var ErrNoSuchDisk = errors.New("no disk with that target")

// ParseDomainXML parses a domain XML document.
func ParseDomainXML(doc string) (*libvirtxml.Domain, error) {
	var dom libvirtxml.Domain
	if err := dom.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("parse domain XML: %w", err)
	}
	return &dom, nil
}

// ParseSnapshotXML parses a domainsnapshot XML document.
func ParseSnapshotXML(doc string) (*libvirtxml.DomainSnapshot, error) {
	var snap libvirtxml.DomainSnapshot
	if err := snap.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("parse snapshot XML: %w", err)
	}
	return &snap, nil
}

func disks(dom *libvirtxml.Domain) []libvirtxml.DomainDisk {
	if dom == nil || dom.Devices == nil {
		return nil
	}
	return dom.Devices.Disks
}

// DiskTargets returns the target dev of every disk in document order,
// duplicates included.
func DiskTargets(dom *libvirtxml.Domain) []string {
	var targets []string
	for _, d := range disks(dom) {
		if d.Target != nil && d.Target.Dev != "" {
			targets = append(targets, d.Target.Dev)
		}
	}
	return targets
}

// FindDisk returns the first disk with the given target dev, or nil.
func FindDisk(dom *libvirtxml.Domain, target string) *libvirtxml.DomainDisk {
	if dom == nil || dom.Devices == nil {
		return nil
	}
	for i := range dom.Devices.Disks {
		d := &dom.Devices.Disks[i]
		if d.Target != nil && d.Target.Dev == target {
			return d
		}
	}
	return nil
}

// DiskSourcePath returns the backing file or block device of a disk, or ""
// when the disk has neither (e.g. an ejected cdrom).
func DiskSourcePath(d *libvirtxml.DomainDisk) string {
	if d == nil || d.Source == nil {
		return ""
	}
	if d.Source.File != nil && d.Source.File.File != "" {
		return d.Source.File.File
	}
	if d.Source.Block != nil && d.Source.Block.Dev != "" {
		return d.Source.Block.Dev
	}
	return ""
}

// DiskSnapshotModes maps each disk target to its snapshot attribute.
func DiskSnapshotModes(dom *libvirtxml.Domain) map[string]string {
	modes := make(map[string]string)
	for _, d := range disks(dom) {
		if d.Target != nil && d.Target.Dev != "" {
			modes[d.Target.Dev] = d.Snapshot
		}
	}
	return modes
}

// SetDiskSnapshot sets snapshot=mode on the disk with the given target. It
// reports whether the document changed.
func SetDiskSnapshot(dom *libvirtxml.Domain, target, mode string) (bool, error) {
	d := FindDisk(dom, target)
	if d == nil {
		return false, fmt.Errorf("%w: %s", ErrNoSuchDisk, target)
	}
	if d.Snapshot == mode {
		return false, nil
	}
	d.Snapshot = mode
	return true, nil
}

// SetDiskFileSource points the disk with the given target at a plain file,
// converting block or network disks to type='file'. It reports whether the
// document changed.
func SetDiskFileSource(dom *libvirtxml.Domain, target, path string) (bool, error) {
	d := FindDisk(dom, target)
	if d == nil {
		return false, fmt.Errorf("%w: %s", ErrNoSuchDisk, target)
	}
	if d.Source != nil && d.Source.File != nil && d.Source.File.File == path &&
		d.Source.Block == nil && d.Source.Network == nil && d.Source.Volume == nil {
		return false, nil
	}

	src := &libvirtxml.DomainDiskSource{File: &libvirtxml.DomainDiskSourceFile{File: path}}
	if d.Source != nil {
		src.Index = d.Source.Index
		src.StartupPolicy = d.Source.StartupPolicy
		if d.Source.File != nil {
			src.File.SecLabel = d.Source.File.SecLabel
		}
	}
	d.Source = src
	return true, nil
}

// MarshalDomainXML serialises dom back to a document suitable for define.
func MarshalDomainXML(dom *libvirtxml.Domain) (string, error) {
	doc, err := dom.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal domain XML: %w", err)
	}
	return doc, nil
}
