package libvirt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocket is the local libvirtd RPC socket.
const DefaultSocket = "/var/run/libvirt/libvirt-sock"

// rpcConn is the part of the go-libvirt client RPCDomain uses.
type rpcConn interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainIsActive(dom libvirt.Domain) (int32, error)
	DomainCreate(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	IsConnected() bool
	Disconnect() error
}

// RPCDomain drives a domain over the libvirt RPC socket. A call that fails
// because the connection dropped, as it does on a daemon restart, is retried
// once on a fresh connection.
type RPCDomain struct {
	name string
	dial func() (rpcConn, error)

	conn rpcConn
	dom  libvirt.Domain
}

// DialDomain connects to the libvirt socket and looks up domainName.
func DialDomain(socket, domainName string, timeout time.Duration) (*RPCDomain, error) {
	if socket == "" {
		socket = DefaultSocket
	}
	return newRPCDomain(domainName, func() (rpcConn, error) {
		conn := libvirt.NewWithDialer(dialers.NewLocal(
			dialers.WithSocket(socket),
			dialers.WithLocalTimeout(timeout),
		))
		if err := conn.Connect(); err != nil {
			return nil, fmt.Errorf("failed to establish libvirt connection on %s: %w", socket, err)
		}
		return conn, nil
	})
}

func newRPCDomain(domainName string, dial func() (rpcConn, error)) (*RPCDomain, error) {
	d := &RPCDomain{name: domainName, dial: dial}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *RPCDomain) connect() error {
	conn, err := d.dial()
	if err != nil {
		return err
	}
	dom, err := conn.DomainLookupByName(d.name)
	if err != nil {
		_ = conn.Disconnect()
		if libvirt.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrDomainNotFound, d.name)
		}
		return fmt.Errorf("failed to look up domain %s: %w", d.name, err)
	}
	d.conn = conn
	d.dom = dom
	return nil
}

func (d *RPCDomain) do(f func() error) error {
	if d.conn != nil {
		err := f()
		if err == nil || !connectionLost(d.conn, err) {
			return err
		}
		_ = d.Close()
	}
	if err := d.connect(); err != nil {
		return err
	}
	return f()
}

// connectionLost reports whether err came from the transport rather than
// from libvirt answering the call.
func connectionLost(conn rpcConn, err error) bool {
	var lerr libvirt.Error
	if errors.As(err, &lerr) {
		return false
	}
	switch {
	case errors.Is(err, libvirt.ErrInterrupted),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}
	return !conn.IsConnected()
}

func (d *RPCDomain) Name() string {
	return d.name
}

func (d *RPCDomain) IsAlive(ctx context.Context) (bool, error) {
	var active int32
	err := d.do(func() error {
		var err error
		active, err = d.conn.DomainIsActive(d.dom)
		return err
	})
	return active == 1, err
}

func (d *RPCDomain) Start(ctx context.Context) error {
	return d.do(func() error { return d.conn.DomainCreate(d.dom) })
}

func (d *RPCDomain) Destroy(ctx context.Context) error {
	return d.do(func() error { return d.conn.DomainDestroy(d.dom) })
}

// Close drops the RPC connection.
func (d *RPCDomain) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Disconnect()
	d.conn = nil
	return err
}
