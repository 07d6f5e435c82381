package nat

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

func puncherTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPuncher_SimultaneousPunchSucceedsBothSides(t *testing.T) {
	connA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	portA := connA.LocalAddr().(*net.UDPAddr).Port
	connA.Close()

	connB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("listen B: %v", err)
	}
	portB := connB.LocalAddr().(*net.UDPAddr).Port
	connB.Close()

	puncherA := NewPuncher(portA, puncherTestLogger())
	puncherB := NewPuncher(portB, puncherTestLogger())

	loopback := net.ParseIP("127.0.0.1")

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errA = puncherA.Punch(ctx, loopback, portB)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errB = puncherB.Punch(ctx, loopback, portA)
	}()
	wg.Wait()

	if errA != nil {
		t.Errorf("puncherA.Punch: %v", errA)
	}
	if errB != nil {
		t.Errorf("puncherB.Punch: %v", errB)
	}
}

func TestPuncher_NoPeerTimesOut(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	// Pick an unreachable port (nothing listens there) so all probes are
	// dropped and no ack/probe ever arrives.
	deadConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("listen dead: %v", err)
	}
	deadPort := deadConn.LocalAddr().(*net.UDPAddr).Port
	deadConn.Close()

	p := NewPuncher(port, puncherTestLogger())
	ctx := context.Background()
	err = p.Punch(ctx, net.ParseIP("127.0.0.1"), deadPort)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}
