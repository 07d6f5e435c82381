package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coff33ninja/lanrage/internal/orchestrator"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List mesh peers",
	Long:  "Connect to the running daemon via its local Unix socket and list mesh peers.",
	RunE:  runPeers,
}

func init() {
	rootCmd.AddCommand(peersCmd)
}

func runPeers(cmd *cobra.Command, _ []string) error {
	resp, err := socketGet(localAPISocketPath(), "/v1/peers")
	if err != nil {
		return fmt.Errorf("lanrage peers: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("lanrage peers: read response: %w", err)
	}
	if resp.StatusCode == 404 {
		fmt.Fprintln(cmd.OutOrStdout(), "no active party")
		return nil
	}

	var peers []orchestrator.Snapshot
	if err := json.Unmarshal(body, &peers); err != nil {
		return fmt.Errorf("lanrage peers: parse response: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(peers) == 0 {
		fmt.Fprintln(w, "no peers")
		return nil
	}
	fmt.Fprintf(w, "%-16s %-14s %-10s %-22s %s\n", "PEER", "VIRTUAL IP", "STATE", "ENDPOINT", "LATENCY")
	for _, p := range peers {
		latency := "-"
		if p.LastLatencyMs != nil {
			latency = fmt.Sprintf("%.0fms", *p.LastLatencyMs)
		}
		fmt.Fprintf(w, "%-16s %-14s %-10s %-22s %s\n",
			p.PeerID, p.VirtualIP, p.State, p.Endpoint, latency)
	}
	return nil
}
