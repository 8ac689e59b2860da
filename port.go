package qga

import (
	"errors"
	"fmt"
	"path/filepath"
)

// DefaultAgentName is the conventional virtio-serial channel name for the
// QEMU guest agent.
const DefaultAgentName = "org.qemu.guest_agent.0"

// DefaultLibvirtChannelDir is where libvirt places guest agent channel
// sockets on the host.
const DefaultLibvirtChannelDir = "/var/lib/libvirt/qemu/channel/target"

var ErrNoAgentSocket = errors.New("no guest agent socket found")

// Port locates the host-side endpoint of the guest agent channel. Resolve
// is called on every dial, so a Port may track an endpoint that moves, such
// as the socket of a domain that is destroyed and recreated.
type Port interface {
	Resolve() (network, address string, err error)
}

// SocketPath is a Port for a unix domain socket chardev.
type SocketPath string

func (p SocketPath) Resolve() (string, string, error) {
	if p == "" {
		return "", "", ErrNoAgentSocket
	}
	return "unix", string(p), nil
}

// TCPAddr is a Port for a TCP chardev in host:port form.
type TCPAddr string

func (p TCPAddr) Resolve() (string, string, error) {
	if p == "" {
		return "", "", ErrNoAgentSocket
	}
	return "tcp", string(p), nil
}

// PortFunc adapts a function to the Port interface.
type PortFunc func() (network, address string, err error)

func (f PortFunc) Resolve() (string, string, error) {
	return f()
}

// LibvirtPort locates the agent socket of a libvirt domain under the
// standard channel directory. The socket only exists while the domain is
// defined with a guest agent channel.
func LibvirtPort(domain string) Port {
	return LibvirtPortIn(DefaultLibvirtChannelDir, domain)
}

// LibvirtPortIn is LibvirtPort with a custom channel directory. Libvirt
// names the per-domain directory "domain-<id>-<name>" where the id changes
// across domain restarts, so the socket is located by glob.
func LibvirtPortIn(dir, domain string) Port {
	return PortFunc(func() (string, string, error) {
		pattern := filepath.Join(dir, "domain-*-"+domain, DefaultAgentName)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return "", "", err
		}
		if len(matches) == 0 {
			return "", "", fmt.Errorf("%w: %s", ErrNoAgentSocket, pattern)
		}
		return "unix", matches[0], nil
	})
}
