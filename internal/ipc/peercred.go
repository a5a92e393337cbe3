// SPDX-License-Identifier: AGPL-3.0-or-later

package ipc

import (
	"fmt"
	"net"
)

// peerCredentials are obtained straight from the kernel via SO_PEERCRED
// (Linux) or LOCAL_PEERCRED (macOS) and cannot be spoofed by the
// connecting process, unlike anything read from the payload itself.
type peerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

func (p peerCredentials) String() string {
	return fmt.Sprintf("pid=%d uid=%d gid=%d", p.PID, p.UID, p.GID)
}

// checkPeerAllowed rejects the connection unless the kernel-reported UID
// of the connecting process is in the server's allow-list.
func (s *Server) checkPeerAllowed(conn net.Conn) error {
	creds, err := getPeerCredentials(conn)
	if err != nil {
		return fmt.Errorf("ipc: peer credentials unavailable: %w", err)
	}
	if _, ok := s.allowedUID[creds.UID]; !ok {
		return fmt.Errorf("ipc: uid %d is not a privileged caller", creds.UID)
	}
	return nil
}
