package libvirt

import (
	"context"
	"fmt"
	"strings"
)

// MemSpec is the --memspec option storing guest memory externally in file.
func MemSpec(file string) []string {
	return []string{"--memspec", "file=" + escapeSpec(file)}
}

// DiskSpecNoSnapshot is the --diskspec option excluding target from a
// snapshot.
func DiskSpecNoSnapshot(target string) []string {
	return []string{"--diskspec", escapeSpec(target) + ",snapshot=no"}
}

// escapeSpec doubles commas, which virsh reads as a literal comma inside a
// --memspec or --diskspec value.
func escapeSpec(s string) string {
	return strings.ReplaceAll(s, ",", ",,")
}

// SnapshotCreateAs runs snapshot-create-as with the given options.
func (v *Virsh) SnapshotCreateAs(ctx context.Context, domainName string, opts ...string) (string, error) {
	args := append([]string{"snapshot-create-as", domainName}, opts...)
	return v.ExecuteCommand(ctx, args...)
}

// SnapshotCreate runs snapshot-create with the given options and lets
// libvirt pick the snapshot name.
func (v *Virsh) SnapshotCreate(ctx context.Context, domainName string, opts ...string) (string, error) {
	args := append([]string{"snapshot-create", domainName}, opts...)
	return v.ExecuteCommand(ctx, args...)
}

// SnapshotCurrentName returns the name of the current snapshot. An empty name
// with a nil error means the domain has none.
func (v *Virsh) SnapshotCurrentName(ctx context.Context, domainName string) (string, error) {
	out, err := v.ExecuteCommand(ctx, "snapshot-current", domainName, "--name")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SnapshotDelete runs snapshot-delete with the given selector options, e.g.
// "--current".
func (v *Virsh) SnapshotDelete(ctx context.Context, domainName string, opts ...string) error {
	args := append([]string{"snapshot-delete", domainName}, opts...)
	_, err := v.ExecuteCommand(ctx, args...)
	return err
}

// SnapshotNames lists the names of every snapshot with metadata.
func (v *Virsh) SnapshotNames(ctx context.Context, domainName string) ([]string, error) {
	out, err := v.ExecuteCommand(ctx, "snapshot-list", domainName, "--name")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(l); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// SnapshotList returns the tabular snapshot-list output.
func (v *Virsh) SnapshotList(ctx context.Context, domainName string) (string, error) {
	return v.ExecuteCommand(ctx, "snapshot-list", domainName)
}

// SnapshotDumpXML returns the snapshot XML of the current snapshot when name
// is empty.
func (v *Virsh) SnapshotDumpXML(ctx context.Context, domainName, name string) (string, error) {
	if name == "" {
		cur, err := v.SnapshotCurrentName(ctx, domainName)
		if err != nil {
			return "", err
		}
		if cur == "" {
			return "", fmt.Errorf("domain %s has no current snapshot", domainName)
		}
		name = cur
	}
	return v.ExecuteCommand(ctx, "snapshot-dumpxml", domainName, name)
}
