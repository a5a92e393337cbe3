// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build darwin

package ipc

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	solLocal      = 0
	localPeercred = 0x001
	localPeerpid  = 0x002
)

// xucred is the Darwin credential structure returned by LOCAL_PEERCRED.
// It carries no PID; that requires a second LOCAL_PEERPID call.
type xucred struct {
	Version uint32
	UID     uint32
	Ngroups int16
	Groups  [16]uint32
}

func getPeerCredentials(conn net.Conn) (peerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return peerCredentials{}, fmt.Errorf("ipc: peer credentials require a unix socket, got %T", conn)
	}

	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return peerCredentials{}, fmt.Errorf("ipc: syscall conn: %w", err)
	}

	var creds peerCredentials
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		var xc xucred
		xcLen := uint32(unsafe.Sizeof(xc))
		_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, fd, solLocal, localPeercred,
			uintptr(unsafe.Pointer(&xc)), uintptr(unsafe.Pointer(&xcLen)), 0)
		if errno != 0 {
			sockErr = fmt.Errorf("getsockopt LOCAL_PEERCRED: %v", errno)
			return
		}
		creds.UID = xc.UID
		if xc.Ngroups > 0 {
			creds.GID = xc.Groups[0]
		}

		var pid int32
		pidLen := uint32(unsafe.Sizeof(pid))
		_, _, errno = unix.Syscall6(unix.SYS_GETSOCKOPT, fd, solLocal, localPeerpid,
			uintptr(unsafe.Pointer(&pid)), uintptr(unsafe.Pointer(&pidLen)), 0)
		if errno != 0 {
			sockErr = fmt.Errorf("getsockopt LOCAL_PEERPID: %v", errno)
			return
		}
		creds.PID = pid
	})
	if err != nil {
		return peerCredentials{}, fmt.Errorf("ipc: control socket: %w", err)
	}
	return creds, sockErr
}
