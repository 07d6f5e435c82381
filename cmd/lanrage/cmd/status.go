package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coff33ninja/lanrage/internal/party"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active party",
	Long:  "Connect to the running daemon via its local Unix socket and show party metadata.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	resp, err := socketGet(localAPISocketPath(), "/v1/party")
	if err != nil {
		return fmt.Errorf("lanrage status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("lanrage status: read response: %w", err)
	}
	if resp.StatusCode == 404 {
		fmt.Fprintln(cmd.OutOrStdout(), "no active party")
		return nil
	}

	var info party.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("lanrage status: parse response: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Party:   %s (%s)\n", info.Name, info.PartyID)
	fmt.Fprintf(w, "Host:    %s\n", info.HostID)
	fmt.Fprintf(w, "Created: %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
