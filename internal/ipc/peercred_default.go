// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !linux && !darwin

package ipc

import (
	"fmt"
	"net"
	"runtime"
)

func getPeerCredentials(net.Conn) (peerCredentials, error) {
	return peerCredentials{}, fmt.Errorf("ipc: peer credential checks are not supported on %s", runtime.GOOS)
}
