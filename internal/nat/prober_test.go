package nat

import (
	"context"
	"net"
	"testing"
	"time"
)

func testConfig(servers ...string) Config {
	cfg := Config{STUNServers: servers, RefreshInterval: 60 * time.Second, Timeout: 3 * time.Second, Enabled: true}
	return cfg
}

func TestProber_Probe_FullConeWhenPortMatches(t *testing.T) {
	mock := &mockSTUNClient{
		results: map[string]mockBindResult{
			"stun1:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 51820}},
		},
	}
	p := NewProber(mock, testConfig("stun1:3478"), 51820, discardLogger())

	result, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.NATType != NATFullCone {
		t.Errorf("NATType = %v, want %v", result.NATType, NATFullCone)
	}
}

func TestProber_Probe_PortRestrictedWhenPortDiffersAndNoSecondServer(t *testing.T) {
	mock := &mockSTUNClient{
		results: map[string]mockBindResult{
			"stun1:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 55555}},
		},
	}
	p := NewProber(mock, testConfig("stun1:3478"), 51820, discardLogger())

	result, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.NATType != NATPortRestrictedCone {
		t.Errorf("NATType = %v, want %v", result.NATType, NATPortRestrictedCone)
	}
}

func TestProber_Probe_SymmetricWhenSecondServerDisagrees(t *testing.T) {
	mock := &mockSTUNClient{
		results: map[string]mockBindResult{
			"stun1:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 55555}},
			"stun2:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 55556}},
		},
	}
	p := NewProber(mock, testConfig("stun1:3478", "stun2:3478"), 51820, discardLogger())

	result, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.NATType != NATSymmetric {
		t.Errorf("NATType = %v, want %v", result.NATType, NATSymmetric)
	}
}

func TestProber_Probe_ConsistentSecondServerConfirmsPortRestricted(t *testing.T) {
	mock := &mockSTUNClient{
		results: map[string]mockBindResult{
			"stun1:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 55555}},
			"stun2:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 55555}},
		},
	}
	p := NewProber(mock, testConfig("stun1:3478", "stun2:3478"), 51820, discardLogger())

	result, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.NATType != NATPortRestrictedCone {
		t.Errorf("NATType = %v, want %v", result.NATType, NATPortRestrictedCone)
	}
}

func TestProber_Probe_FallsThroughOnServerFailure(t *testing.T) {
	mock := &mockSTUNClient{
		results: map[string]mockBindResult{
			"stun2:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 51820}},
		},
		defaultErr: errDummyFailure,
	}
	p := NewProber(mock, testConfig("stun1:3478", "stun2:3478"), 51820, discardLogger())

	result, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.NATType != NATFullCone {
		t.Errorf("NATType = %v, want %v", result.NATType, NATFullCone)
	}
}

func TestProber_Probe_AllServersFailReturnsNATProbeFailed(t *testing.T) {
	mock := &mockSTUNClient{defaultErr: errDummyFailure}
	p := NewProber(mock, testConfig("stun1:3478", "stun2:3478"), 51820, discardLogger())

	_, err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("Probe() error = nil, want NATProbeFailed")
	}
}

func TestProber_LastResult_UpdatesAfterProbe(t *testing.T) {
	mock := &mockSTUNClient{
		results: map[string]mockBindResult{
			"stun1:3478": {Addr: MappedAddress{IP: net.ParseIP("203.0.113.9"), Port: 51820}},
		},
	}
	p := NewProber(mock, testConfig("stun1:3478"), 51820, discardLogger())

	if p.LastResult() != nil {
		t.Fatal("LastResult() before any Probe() should be nil")
	}
	if _, err := p.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if p.LastResult() == nil {
		t.Fatal("LastResult() after Probe() should not be nil")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

const errDummyFailure = errString("stun: dummy failure")

func TestPunch_AckReceivedSucceeds(t *testing.T) {
	a, b := newUDPConnPair(t)
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		done <- Punch(context.Background(), a, b.LocalAddr().(*net.UDPAddr), discardLogger())
	}()

	buf := make([]byte, 64)
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := b.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
	if string(buf[:n]) != "LANRAGE_PUNCH" {
		t.Fatalf("received %q, want LANRAGE_PUNCH", buf[:n])
	}
	if _, err := b.WriteToUDP([]byte("LANRAGE_PUNCH_ACK"), from); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Punch() error = %v", err)
	}
}

func TestPunch_PeerInitiatedProbeIsAcked(t *testing.T) {
	a, b := newUDPConnPair(t)
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		done <- Punch(context.Background(), a, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}, discardLogger())
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := b.WriteToUDP([]byte("LANRAGE_PUNCH"), a.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Punch() error = %v", err)
	}
}

func TestPunch_TimeoutReturnsHolePunchFailed(t *testing.T) {
	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer a.Close()

	// Nobody listens on this address, so no ACK or probe will ever arrive.
	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}

	err = Punch(context.Background(), a, unreachable, discardLogger())
	if err == nil {
		t.Fatal("Punch() error = nil, want timeout failure")
	}
}

func newUDPConnPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	b, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		a.Close()
		t.Fatalf("ListenUDP() error = %v", err)
	}
	return a, b
}
