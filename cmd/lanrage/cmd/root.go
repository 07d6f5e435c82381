// Package cmd implements the lanrage CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("lanrage version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "lanrage",
	Short: "lanrage is a peer-to-peer mesh VPN for LAN-only games",
	Long: "lanrage gives a group of players a virtual LAN across the public\n" +
		"Internet: WireGuard tunnels between peers, NAT traversal with relay\n" +
		"fallback, and LAN broadcast/multicast emulation, with no port\n" +
		"forwarding or centralized accounts required.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/lanrage/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("lanrage version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
