//go:build !linux

package main

import "net"

// listenTCP falls back to net.Listen; the backlog is left to the OS default.
func listenTCP(addr string, backlog int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
