//go:build !unix

package tcpacceptor

import "net"

// listenTCP binds endpoint with the platform's default backlog; the requested
// backlog cannot be honored without raw socket access.
func listenTCP(endpoint string, _ int) (net.Listener, error) {
	return net.Listen("tcp", endpoint)
}
