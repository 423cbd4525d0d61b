//go:build unix

package tcpacceptor

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP binds endpoint and listens with an explicit backlog. The socket
// is created by hand because net.Listen always listens with the system
// default backlog.
func listenTCP(endpoint string, backlog int) (net.Listener, error) {
	if backlog < 1 {
		backlog = unix.SOMAXCONN
	}

	addr, err := net.ResolveTCPAddr("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", endpoint, err)
	}

	family, sa := sockaddrFor(addr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", endpoint, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}

	f := os.NewFile(uintptr(fd), "tcp-listener")
	ln, err := net.FileListener(f)
	// FileListener dups the descriptor; the original is closed either way.
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}

	return ln, nil
}

// sockaddrFor maps a resolved TCP address to a socket family and sockaddr.
// A missing or IPv6 host uses AF_INET6, which on the supported platforms also
// serves IPv4 clients through mapped addresses.
func sockaddrFor(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	if ip16 := addr.IP.To16(); ip16 != nil {
		copy(sa.Addr[:], ip16)
	}
	return unix.AF_INET6, sa
}
