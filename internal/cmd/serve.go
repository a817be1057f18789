package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grovefs/grovefs/internal/config"
	"github.com/grovefs/grovefs/internal/engine"
	"github.com/grovefs/grovefs/internal/fuseadapter"
	"github.com/grovefs/grovefs/internal/network"
	"github.com/grovefs/grovefs/internal/repo"
	"github.com/grovefs/grovefs/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync engine",
	Long: `serve hydrates or creates the root document, optionally mounts the VFS
facade as a FUSE filesystem, and optionally joins a peer network, then blocks
until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("mount", "", "mount the VFS at this path via FUSE")
	serveCmd.Flags().Bool("debug-stats", false, "log periodic repository/peer stats")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	debug := flagDebug(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	eng := engine.New(adapter, engine.WithRepoOptions(repo.WithThrottle(repo.ThrottleConfig{
		Leading:  cfg.Throttle.Leading,
		Trailing: cfg.Throttle.Trailing,
	})))

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if eng.State() != engine.StateReady {
		rootID, err := eng.CreateRoot(ctx)
		if err != nil {
			return fmt.Errorf("create root: %w", err)
		}
		log.Printf("[serve] created new root %s", rootID)
	}

	if cfg.Network.Listen != "" || len(cfg.Network.Connect) > 0 {
		ws := network.NewWebSocketAdapter(network.WebSocketConfig{
			Listen:  cfg.Network.Listen,
			Connect: cfg.Network.Connect,
		})
		if err := eng.AddNetwork(ctx, ws, network.PeerID(uuid.New().String()), map[string]string{"root": eng.RootID().String()}); err != nil {
			return fmt.Errorf("join network: %w", err)
		}
		log.Printf("[serve] network bound (listen=%q connect=%v)", cfg.Network.Listen, cfg.Network.Connect)
	}

	mountpoint, _ := cmd.Flags().GetString("mount")
	if mountpoint == "" {
		mountpoint = cfg.Mount.DefaultPath
	}

	var fuseServer interface{ Unmount() error }
	if mountpoint != "" {
		if err := os.MkdirAll(mountpoint, 0o755); err != nil {
			return fmt.Errorf("create mountpoint: %w", err)
		}
		root := fuseadapter.New(eng, debug)
		srv, err := fuseadapter.Mount(mountpoint, root, debug)
		if err != nil {
			return fmt.Errorf("mount fuse at %s: %w", mountpoint, err)
		}
		fuseServer = srv
		log.Printf("[serve] mounted at %s", mountpoint)
	}

	debugStats, _ := cmd.Flags().GetBool("debug-stats")
	if debugStats {
		go logStats(ctx, eng)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("[serve] shutting down")
	cancel()

	if fuseServer != nil {
		if err := fuseServer.Unmount(); err != nil {
			log.Printf("[serve] unmount: %v", err)
		}
	}
	if err := eng.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func logStats(ctx context.Context, eng *engine.Engine) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := eng.Stats()
			log.Printf("[serve] stats: live=%d pending=%d unavailable=%d peers=%d",
				s.Live, s.PendingWriteback, s.Unavailable, s.ConnectedPeers)
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func flagDebug(cmd *cobra.Command) bool {
	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	return debug
}

func openStorage(cfg *config.Config) (storage.Adapter, error) {
	if cfg.Storage.Path == "" {
		return storage.NewMemory(), nil
	}
	return storage.OpenSQLite(cfg.Storage.Path)
}
