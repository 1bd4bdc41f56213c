package libvirt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"snapshot-harness/internal/cmdutil"
)

// Virsh wraps the virsh command line client.
type Virsh struct {
	bin string
	run cmdutil.Runner
}

// NewVirsh returns a Virsh that invokes bin through run. An empty bin means
// "virsh" from PATH.
func NewVirsh(run cmdutil.Runner, bin string) *Virsh {
	if bin == "" {
		bin = "virsh"
	}
	return &Virsh{bin: bin, run: run}
}

// ExecuteCommand constructs and executes the virsh command
func (v *Virsh) ExecuteCommand(ctx context.Context, args ...string) (string, error) {
	return cmdutil.Output(ctx, v.run, v.bin, args...)
}

// Try runs a virsh command whose failure the caller tolerates.
func (v *Virsh) Try(ctx context.Context, args ...string) (cmdutil.Result, error) {
	return v.run.Run(ctx, v.bin, args...)
}

// Version is the cheapest round trip to the daemon.
func (v *Virsh) Version(ctx context.Context) error {
	_, err := v.ExecuteCommand(ctx, "version")
	return err
}

// DumpXML returns the live domain XML, or the persistent one when inactive
// is set.
func (v *Virsh) DumpXML(ctx context.Context, domainName string, inactive bool) (string, error) {
	args := []string{"dumpxml", domainName}
	if inactive {
		args = append(args, "--inactive")
	}
	return v.ExecuteCommand(ctx, args...)
}

// DefineXML writes doc to a file under dir and defines the domain from it.
func (v *Virsh) DefineXML(ctx context.Context, dir, domainName, doc string) error {
	f, err := os.CreateTemp(dir, domainName+"-*.xml")
	if err != nil {
		return fmt.Errorf("failed to create domain XML file in %s: %w", dir, err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(doc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write domain XML: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write domain XML: %w", err)
	}
	return v.DefineDomain(ctx, f.Name())
}

// DefineDomain defines a domain from an XML file
func (v *Virsh) DefineDomain(ctx context.Context, xmlConfigPath string) error {
	_, err := v.ExecuteCommand(ctx, "define", filepath.Clean(xmlConfigPath))
	return err
}

func (v *Virsh) StartDomain(ctx context.Context, domainName string) error {
	_, err := v.ExecuteCommand(ctx, "start", domainName)
	return err
}

func (v *Virsh) DestroyDomain(ctx context.Context, domainName string) error {
	_, err := v.ExecuteCommand(ctx, "destroy", domainName)
	return err
}

func (v *Virsh) GetDomainInfo(ctx context.Context, domainName string) (string, error) {
	return v.ExecuteCommand(ctx, "dominfo", domainName)
}

// DomainState returns the "State:" field of dominfo, e.g. "running" or
// "shut off".
func (v *Virsh) DomainState(ctx context.Context, domainName string) (string, error) {
	out, err := v.GetDomainInfo(ctx, domainName)
	if err != nil {
		return "", err
	}
	return ParseDomainStatus(out)
}

// DomStats returns the raw output of domstats for the domain.
func (v *Virsh) DomStats(ctx context.Context, domainName string) (string, error) {
	return v.ExecuteCommand(ctx, "domstats", domainName)
}

// DomBlkInfo returns the raw output of domblkinfo for one device.
func (v *Virsh) DomBlkInfo(ctx context.Context, domainName, target string) (string, error) {
	return v.ExecuteCommand(ctx, "domblkinfo", domainName, target)
}

// DomBlkList lists block devices with the Type/Device/Target/Source columns.
func (v *Virsh) DomBlkList(ctx context.Context, domainName string, inactive bool) ([]BlkDevice, error) {
	args := []string{"domblklist", domainName, "--details"}
	if inactive {
		args = append(args, "--inactive")
	}
	out, err := v.ExecuteCommand(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseBlkList(out), nil
}
