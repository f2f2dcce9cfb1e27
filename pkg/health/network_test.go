package health

import (
	"context"
	"net"
	"testing"

	"github.com/herdctl/herd/pkg/runtime"
	"github.com/herdctl/herd/pkg/types"
)

// listenTCP opens a listener on an ephemeral port and returns the port.
func listenTCP(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestCheckNetworkAllReachable(t *testing.T) {
	inst := &types.Instance{
		ID: "abc",
		Ports: types.PortSet{
			GatewayHTTP:      listenTCP(t),
			DatabaseExternal: listenTCP(t),
			Analytics:        listenTCP(t),
		},
	}

	c := NewChecker(runtime.NewFakeDriver(), "127.0.0.1")
	report := c.CheckNetwork(context.Background(), inst)

	if !report.Healthy {
		t.Errorf("report unhealthy: %s", report.Error)
	}
	if len(report.Ports) != 3 {
		t.Fatalf("port checks = %d, want 3", len(report.Ports))
	}
	for _, pc := range report.Ports {
		if !pc.Reachable {
			t.Errorf("%s:%d unreachable: %s", pc.Role, pc.Port, pc.Error)
		}
	}
	if !report.DNSResolved {
		t.Error("localhost did not resolve")
	}
}

func TestCheckNetworkUnreachablePort(t *testing.T) {
	// Open then close a listener so the port is known-free.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadPort := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	inst := &types.Instance{
		ID: "abc",
		Ports: types.PortSet{
			GatewayHTTP:      listenTCP(t),
			DatabaseExternal: deadPort,
			Analytics:        listenTCP(t),
		},
	}

	c := NewChecker(runtime.NewFakeDriver(), "127.0.0.1")
	report := c.CheckNetwork(context.Background(), inst)

	if report.Healthy {
		t.Error("report healthy with an unreachable port")
	}
	var failed *types.PortCheck
	for i := range report.Ports {
		if report.Ports[i].Role == "database_external" {
			failed = &report.Ports[i]
		}
	}
	if failed == nil || failed.Reachable {
		t.Errorf("database_external check = %+v", failed)
	}
}
