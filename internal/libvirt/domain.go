package libvirt

import (
	"context"
	"errors"
	"fmt"
)

// ErrDomainNotFound is returned when the named domain does not exist.
var ErrDomainNotFound = errors.New("domain not found")

// Domain is a handle on a single VM.
type Domain interface {
	Name() string
	IsAlive(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// VirshDomain drives a domain through the virsh client.
type VirshDomain struct {
	name  string
	virsh *Virsh
}

// LookupDomain returns a handle on domainName, or ErrDomainNotFound.
func LookupDomain(ctx context.Context, v *Virsh, domainName string) (*VirshDomain, error) {
	if _, err := v.GetDomainInfo(ctx, domainName); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDomainNotFound, domainName, err)
	}
	return &VirshDomain{name: domainName, virsh: v}, nil
}

func (d *VirshDomain) Name() string {
	return d.name
}

// IsAlive reports whether the domain is active. "in shutdown" still counts.
func (d *VirshDomain) IsAlive(ctx context.Context) (bool, error) {
	state, err := d.virsh.DomainState(ctx, d.name)
	if err != nil {
		return false, err
	}
	return state != "shut off" && state != "crashed", nil
}

func (d *VirshDomain) Start(ctx context.Context) error {
	return d.virsh.StartDomain(ctx, d.name)
}

func (d *VirshDomain) Destroy(ctx context.Context) error {
	return d.virsh.DestroyDomain(ctx, d.name)
}
