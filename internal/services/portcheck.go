package services

import (
	"context"
	"net"
	"strconv"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// PortBound reports whether something accepts TCP connections on host:port.
func PortBound(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ListeningPID returns the PID of the process listening on port, or 0 when
// it cannot be determined (for example when the socket belongs to another
// user).
func ListeningPID(ctx context.Context, port int) (int32, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, err
	}
	for _, conn := range conns {
		if conn.Status == "LISTEN" && int(conn.Laddr.Port) == port && conn.Pid > 0 {
			return conn.Pid, nil
		}
	}
	return 0, nil
}
