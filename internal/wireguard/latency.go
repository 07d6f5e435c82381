package wireguard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-ping/ping"
)

// icmpProbeTimeout is the per-probe read timeout from spec §4.2's
// measure_latency contract.
const icmpProbeTimeout = 2 * time.Second

// icmpMeasureLatency sends up to samples ICMP echo requests to virtualIP
// and returns the median RTT of successful replies, or nil if every probe
// failed. It is the default LatencyProber implementation, shared by every
// platform controller.
func icmpMeasureLatency(ctx context.Context, virtualIP string, samples int) (*float64, error) {
	if samples <= 0 {
		samples = 3
	}

	pinger, err := ping.NewPinger(virtualIP)
	if err != nil {
		return nil, fmt.Errorf("wireguard: measure latency: new pinger: %w", err)
	}
	pinger.SetPrivileged(true)
	pinger.Count = samples
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = icmpProbeTimeout * time.Duration(samples)

	var rtts []time.Duration
	pinger.OnRecv = func(pkt *ping.Packet) {
		rtts = append(rtts, pkt.Rtt)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		return nil, fmt.Errorf("wireguard: measure latency: %w", ctx.Err())
	case err := <-runErr:
		if err != nil {
			return nil, fmt.Errorf("wireguard: measure latency: %w", err)
		}
	}

	if len(rtts) == 0 {
		return nil, nil
	}

	sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })
	median := rtts[len(rtts)/2]
	ms := float64(median) / float64(time.Millisecond)
	return &ms, nil
}
