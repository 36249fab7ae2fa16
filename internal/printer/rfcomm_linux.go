//go:build linux

package printer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// rfcommLink is a connected RFCOMM stream socket
type rfcommLink struct {
	*os.File
	fd int
}

// Alive polls the socket for hangup without blocking
func (l *rfcommLink) Alive() bool {
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return false
	}
	if n == 0 {
		return true
	}
	return fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) == 0
}

func rfcommSupported() bool {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return false
	}
	_ = unix.Close(fd)
	return true
}

// parseMAC turns "AA:BB:CC:DD:EE:FF" into the little-endian bdaddr layout
func parseMAC(mac string) ([6]uint8, error) {
	var addr [6]uint8
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid bluetooth address: %q", mac)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return addr, fmt.Errorf("invalid bluetooth address: %q", mac)
		}
		addr[5-i] = uint8(b)
	}
	return addr, nil
}

// dialRFCOMM connects to channel on the device at mac
func dialRFCOMM(ctx context.Context, mac string, channel int) (Link, error) {
	addr, err := parseMAC(mac)
	if err != nil {
		return nil, err
	}
	if channel <= 0 {
		channel = 1
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("failed to create rfcomm socket: %w", err)
	}

	// connect(2) on an RFCOMM socket honours the send timeout
	if deadline, ok := ctx.Deadline(); ok {
		tv := unix.NsecToTimeval(time.Until(deadline).Nanoseconds())
		if tv.Sec > 0 || tv.Usec > 0 {
			_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	})
	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: uint8(channel)})
	stop()
	if err != nil {
		_ = unix.Close(fd)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rfcomm connect %s channel %d: %w", mac, channel, err)
	}

	var zero unix.Timeval
	_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &zero)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm nonblock: %w", err)
	}

	return &rfcommLink{
		File: os.NewFile(uintptr(fd), "rfcomm:"+mac),
		fd:   fd,
	}, nil
}
