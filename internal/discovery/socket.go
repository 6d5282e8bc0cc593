package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
)

// listenUDP binds the discovery socket. When reuseAddr is set, SO_REUSEADDR
// (and, where available, SO_REUSEPORT) is enabled before bind so more than
// one instance on the same host can share the discovery port — the
// config knob named "reuseAddr" in spec section 4.3.
func listenUDP(ctx context.Context, addr *net.UDPAddr, reuseAddr bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{}
	if reuseAddr {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		}
	}
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	return conn, nil
}

// enableBroadcast flips SO_BROADCAST on the underlying UDP socket so
// writes to a broadcast address (e.g. 255.255.255.255) aren't rejected
// with EACCES. Go's net package has no portable knob for this, so it's
// done directly on the raw fd.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// joinMulticast joins the given IPv4 multicast group on conn and sets the
// outbound TTL used for beacons sent on it.
func joinMulticast(conn *net.UDPConn, group string, ttl int) error {
	ip := net.ParseIP(group)
	if ip == nil {
		return fmt.Errorf("invalid multicast group %q", group)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: ip}); err != nil {
		return fmt.Errorf("join multicast group %s: %w", group, err)
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	return nil
}
