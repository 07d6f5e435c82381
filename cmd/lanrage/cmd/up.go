package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coff33ninja/lanrage/internal/api"
	"github.com/coff33ninja/lanrage/internal/broadcast"
	"github.com/coff33ninja/lanrage/internal/config"
	"github.com/coff33ninja/lanrage/internal/identity"
	"github.com/coff33ninja/lanrage/internal/ipam"
	"github.com/coff33ninja/lanrage/internal/localapi"
	"github.com/coff33ninja/lanrage/internal/nat"
	"github.com/coff33ninja/lanrage/internal/orchestrator"
	"github.com/coff33ninja/lanrage/internal/party"
	"github.com/coff33ninja/lanrage/internal/wireguard"
)

// drainTimeout is the maximum time for graceful shutdown.
const drainTimeout = 30 * time.Second

var (
	createPartyName string
	joinPartyID     string
	displayName     string
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the lanrage daemon",
	Long: "Start the lanrage daemon. Exactly one of --create or --join is\n" +
		"required: --create registers a brand new party, --join attaches to\n" +
		"an existing one.",
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVar(&createPartyName, "create", "", "create a new party with this name")
	upCmd.Flags().StringVar(&joinPartyID, "join", "", "join an existing party by id")
	upCmd.Flags().StringVar(&displayName, "display-name", "", "this host's display name (required with --join)")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	if (createPartyName == "") == (joinPartyID == "") {
		return fmt.Errorf("lanrage up: exactly one of --create or --join is required")
	}
	if joinPartyID != "" && displayName == "" {
		return fmt.Errorf("lanrage up: --display-name is required with --join")
	}

	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("lanrage up: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting lanrage",
		"version", buildVersion,
	)

	id, err := identity.LoadOrCreate(cfg.KeysDir())
	if err != nil {
		return fmt.Errorf("lanrage up: load identity: %w", err)
	}
	logger.Info("identity loaded", "peer_id", id.PeerID)

	controlPlane, err := api.NewControlPlane(cfg.API, buildVersion, logger)
	if err != nil {
		return fmt.Errorf("lanrage up: create control plane client: %w", err)
	}

	ctrl := wireguard.NewNetlinkController(logger, cfg.WireGuard.InterfaceName)
	wgManager := wireguard.NewManager(ctrl, cfg.WireGuard, logger)

	basePrefix, err := cfg.BaseSubnetPrefix()
	if err != nil {
		return fmt.Errorf("lanrage up: %w", err)
	}
	pool, err := ipam.New(basePrefix)
	if err != nil {
		return fmt.Errorf("lanrage up: create ipam pool: %w", err)
	}

	stunClient := &nat.UDPSTUNClient{Timeout: cfg.NAT.Timeout}
	prober := nat.NewProber(stunClient, cfg.NAT, cfg.WireGuard.ListenPort, logger)
	puncher := nat.NewPuncher(cfg.WireGuard.ListenPort, logger)

	forwarder, err := broadcast.New(cfg.Broadcast, logger)
	if err != nil {
		return fmt.Errorf("lanrage up: create broadcast forwarder: %w", err)
	}

	localNAT := func() nat.NATType {
		result := prober.LastResult()
		if result == nil {
			return nat.NATUnknown
		}
		return result.NATType
	}

	orch := orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		WireGuard:  wgManager,
		IPAM:       pool,
		Puncher:    puncher,
		RelayPing:  orchestrator.NewICMPRelayPinger(),
		Broadcast:  forwarder,
		ControlAPI: controlPlane,
	}, "", localNAT, logger)

	runtime := party.New(party.Deps{
		ControlPlane: controlPlane,
		WireGuard:    wgManager,
		IPAM:         pool,
		Prober:       prober,
		Forwarder:    forwarder,
		Orchestrator: orch,
		Identity:     id,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	hostIP, err := pool.Allocate(id.PeerID)
	if err != nil {
		return fmt.Errorf("lanrage up: allocate host virtual ip: %w", err)
	}
	if err := wgManager.Setup(ctx, id.Keypair.PrivateKey, hostIP.String()); err != nil {
		return fmt.Errorf("lanrage up: set up wireguard interface: %w", err)
	}
	defer func() {
		if err := wgManager.Teardown(); err != nil {
			logger.Warn("wireguard teardown failed", "error", err)
		}
	}()

	if result, probeErr := prober.Probe(ctx); probeErr != nil {
		logger.Warn("initial NAT probe failed", "error", probeErr)
	} else {
		logger.Info("NAT probe complete", "nat_type", result.NATType, "endpoint", result.Endpoint())
	}

	if createPartyName != "" {
		partyID, err := runtime.CreateParty(ctx, createPartyName)
		if err != nil {
			return fmt.Errorf("lanrage up: create party: %w", err)
		}
		logger.Info("party created", "party_id", partyID)
	} else {
		if err := runtime.JoinParty(ctx, joinPartyID, displayName); err != nil {
			return fmt.Errorf("lanrage up: join party: %w", err)
		}
		logger.Info("party joined", "party_id", joinPartyID)
	}

	localAPISrv := localapi.NewServer(cfg.LocalAPI, runtime, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := localAPISrv.Start(ctx); err != nil {
			logger.Error("local API server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", "reason", ctx.Err())

	leaveCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := runtime.LeaveParty(leaveCtx); err != nil {
		logger.Warn("leave party failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded, forcing exit")
	}

	logger.Info("lanrage stopped")
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
