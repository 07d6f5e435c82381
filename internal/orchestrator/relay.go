package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"

	"github.com/coff33ninja/lanrage/internal/api"
)

// icmpRelayPinger is the default RelayPinger: a single privileged
// (raw-socket) ICMP echo per call, grounded on wireguard's icmpMeasureLatency but with a
// single sample — relay ranking only needs a coarse ordering, not a
// median across several probes.
type icmpRelayPinger struct{}

// NewICMPRelayPinger returns the default RelayPinger implementation.
func NewICMPRelayPinger() RelayPinger { return icmpRelayPinger{} }

// Ping sends one ICMP echo to host and returns its RTT in milliseconds.
func (icmpRelayPinger) Ping(ctx context.Context, host string, timeout time.Duration) (float64, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: relay ping: %w", err)
	}
	pinger.SetPrivileged(true)
	pinger.Count = 1
	pinger.Timeout = timeout

	var rtt time.Duration
	got := false
	pinger.OnRecv = func(pkt *ping.Packet) {
		rtt = pkt.Rtt
		got = true
	}

	runErr := make(chan error, 1)
	go func() { runErr <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		return 0, ctx.Err()
	case err := <-runErr:
		if err != nil {
			return 0, fmt.Errorf("orchestrator: relay ping: %w", err)
		}
	}

	if !got {
		return 0, fmt.Errorf("orchestrator: relay ping: %s: no reply", host)
	}
	return float64(rtt) / float64(time.Millisecond), nil
}

// rankedRelay pairs a candidate relay with its measured latency.
type rankedRelay struct {
	relay     api.RelayEntry
	latencyMs float64
}

// selectRelay pings every candidate concurrently and returns the lowest-
// latency one. Candidates that don't answer within cfg.RelayProbeTimeout
// are dropped from consideration. Returns an error only if every
// candidate is unreachable.
func selectRelay(ctx context.Context, pinger RelayPinger, candidates []api.RelayEntry, timeout time.Duration) (api.RelayEntry, float64, error) {
	if len(candidates) == 0 {
		return api.RelayEntry{}, 0, fmt.Errorf("orchestrator: select relay: no candidates")
	}

	type result struct {
		idx       int
		latencyMs float64
		err       error
	}

	results := make(chan result, len(candidates))
	for i, c := range candidates {
		go func(i int, c api.RelayEntry) {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			latency, err := pinger.Ping(probeCtx, c.PublicIP, timeout)
			results <- result{idx: i, latencyMs: latency, err: err}
		}(i, c)
	}

	var ranked []rankedRelay
	for range candidates {
		r := <-results
		if r.err != nil {
			continue
		}
		ranked = append(ranked, rankedRelay{relay: candidates[r.idx], latencyMs: r.latencyMs})
	}

	if len(ranked) == 0 {
		return api.RelayEntry{}, 0, fmt.Errorf("orchestrator: select relay: all %d candidates unreachable", len(candidates))
	}

	best := ranked[0]
	for _, r := range ranked[1:] {
		if r.latencyMs < best.latencyMs {
			best = r
		}
	}
	return best.relay, best.latencyMs, nil
}

// relayImprovement reports whether candidateMs is a sufficient
// improvement over currentMs to justify a relay switch, per §5's 20%
// improvement threshold. A zero or negative currentMs (no baseline yet)
// always permits switching.
func relayImprovement(currentMs, candidateMs, requiredFraction float64) bool {
	if currentMs <= 0 {
		return true
	}
	return (currentMs-candidateMs)/currentMs >= requiredFraction
}
