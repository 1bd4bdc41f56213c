package libvirt

import "context"

// QemuAgentPing checks if the qemu guest agent is running
func (v *Virsh) QemuAgentPing(ctx context.Context, domainName string) error {
	_, err := v.ExecuteCommand(ctx, "qemu-agent-command", domainName, `{"execute":"guest-ping"}`)
	return err
}
