// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

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
		ucred, sErr := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if sErr != nil {
			sockErr = fmt.Errorf("getsockopt SO_PEERCRED: %w", sErr)
			return
		}
		creds = peerCredentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}
	})
	if err != nil {
		return peerCredentials{}, fmt.Errorf("ipc: control socket: %w", err)
	}
	return creds, sockErr
}
