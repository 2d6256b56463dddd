package net

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// SharedPortManager hands out ports so that tests running daemons don't collide.
var SharedPortManager = &PortManager{used: make(map[int]struct{})}

type PortManager struct {
	mu   sync.Mutex
	used map[int]struct{}
}

/*
GetFreePort returns port which is free at the moment of the call and which
hasn't been returned earlier by the manager.
*/
func (pm *PortManager) GetFreePort() (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			return 0, err
		}
		port := l.Addr().(*net.TCPAddr).Port
		if err := l.Close(); err != nil {
			return 0, err
		}
		if _, ok := pm.used[port]; !ok {
			pm.used[port] = struct{}{}
			return port, nil
		}
	}
}

func (pm *PortManager) GetRandomFreePort(t testing.TB) int {
	port, err := pm.GetFreePort()
	require.NoError(t, err)
	return port
}
