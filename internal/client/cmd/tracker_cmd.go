package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-seek/internal/config"
	"github.com/rudransh-shrivastava/peer-seek/internal/tracker"
	"github.com/spf13/cobra"
)

var trackerFlags struct {
	addr         string
	database     string
	maxNeighbors int
	capacity     int
}

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "runs the rendezvous server",
	Long:  `runs the rendezvous server nodes register with to learn their first neighbors`,
	Args:  cobra.NoArgs,
	RunE:  runTracker,
}

func init() {
	f := trackerCmd.Flags()
	f.StringVarP(&trackerFlags.addr, "addr", "a", "", "UDP address host:port to listen on")
	f.StringVar(&trackerFlags.database, "database", "", "sqlite path of the registry, :memory: keeps it in memory")
	f.IntVar(&trackerFlags.maxNeighbors, "max-neighbors", 0, "peers offered in each REGOK")
	f.IntVar(&trackerFlags.capacity, "capacity", 0, "maximum registrations, 0 for unlimited")
}

func applyTrackerFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("addr") {
		host, port, err := splitHostPort(trackerFlags.addr)
		if err != nil {
			return err
		}
		cfg.Tracker.Host, cfg.Tracker.Port = host, port
	}
	if f.Changed("database") {
		cfg.Registry.Database = trackerFlags.database
	}
	if f.Changed("max-neighbors") {
		cfg.Registry.MaxNeighbors = trackerFlags.maxNeighbors
	}
	if f.Changed("capacity") {
		cfg.Registry.Capacity = trackerFlags.capacity
	}
	return cfg.Validate()
}

func runTracker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyTrackerFlags(cmd, cfg); err != nil {
		return err
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	srv, err := tracker.NewServer(tracker.Config{
		Addr:         cfg.TrackerAddr(),
		MaxNeighbors: cfg.Registry.MaxNeighbors,
		Capacity:     cfg.Registry.Capacity,
		Database:     cfg.Registry.Database,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Shutdown(); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// TrackerCommand is the rendezvous server as a standalone root command.
func TrackerCommand() *cobra.Command {
	rootCmd.RemoveCommand(trackerCmd)
	trackerCmd.Use = "peer-seek-tracker"
	trackerCmd.PersistentFlags().AddFlagSet(rootCmd.PersistentFlags())
	return trackerCmd
}
