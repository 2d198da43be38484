package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-seek/internal/catalog"
	"github.com/rudransh-shrivastava/peer-seek/internal/config"
	"github.com/rudransh-shrivastava/peer-seek/internal/metrics"
	"github.com/rudransh-shrivastava/peer-seek/internal/node"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/shell"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var nodeFlags struct {
	host     string
	port     int
	username string
	tracker  string
	files    string
	queries  string
	hops     int
	admin    string
	watch    bool
	noSample bool
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "joins the overlay and opens the search console",
	Long: `registers with the rendezvous server, joins the offered neighbors and reads
search queries and #-commands from stdin until #X or end of input`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

func init() {
	f := nodeCmd.Flags()
	f.StringVar(&nodeFlags.host, "host", "", "advertised host of this node")
	f.IntVar(&nodeFlags.port, "port", 0, "UDP port of this node")
	f.StringVarP(&nodeFlags.username, "username", "u", "", "name registered with the rendezvous server")
	f.StringVarP(&nodeFlags.tracker, "tracker", "t", "", "rendezvous server address host:port")
	f.StringVar(&nodeFlags.files, "files", "", "file with one shared file name per line")
	f.StringVar(&nodeFlags.queries, "queries", "", "query file replayed by #BENCH")
	f.IntVar(&nodeFlags.hops, "hops", 0, "hop budget of searches started here")
	f.StringVar(&nodeFlags.admin, "admin", "", "serve metrics and the admin API on this address")
	f.BoolVar(&nodeFlags.watch, "watch", false, "reload the file list when it changes")
	f.BoolVar(&nodeFlags.noSample, "all-files", false, "share every listed file instead of a random few")
}

func applyNodeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Node.Host = nodeFlags.host
	}
	if f.Changed("port") {
		cfg.Node.Port = nodeFlags.port
	}
	if f.Changed("username") {
		cfg.Node.Username = nodeFlags.username
	}
	if f.Changed("tracker") {
		host, port, err := splitHostPort(nodeFlags.tracker)
		if err != nil {
			return err
		}
		cfg.Tracker.Host, cfg.Tracker.Port = host, port
	}
	if f.Changed("files") {
		cfg.Catalog.File = nodeFlags.files
	}
	if f.Changed("queries") {
		cfg.Benchmark.QueryFile = nodeFlags.queries
	}
	if f.Changed("hops") {
		cfg.Search.HopsMax = nodeFlags.hops
	}
	if f.Changed("admin") {
		cfg.Admin.Addr = nodeFlags.admin
	}
	if f.Changed("watch") {
		cfg.Catalog.Watch = nodeFlags.watch
	}
	if f.Changed("all-files") {
		cfg.Catalog.Sample = !nodeFlags.noSample
	}
	return cfg.Validate()
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyNodeFlags(cmd, cfg); err != nil {
		return err
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files := loadCatalog(ctx, cfg, log)

	n, err := node.New(node.Options{
		Self:          peer.New(cfg.Node.Host, cfg.Node.Port, cfg.Node.Username),
		Tracker:       peer.New(cfg.Tracker.Host, cfg.Tracker.Port, ""),
		HopsMax:       cfg.Search.HopsMax,
		CallTimeout:   cfg.CallTimeout(),
		RejoinBackoff: cfg.RejoinBackoff(),
		Catalog:       files,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Disconnect(context.Background()); err != nil {
			log.Warnf("disconnect: %v", err)
		}
	}()

	log.WithField("tracker", cfg.TrackerAddr()).Infof("Connecting as %s (%s)", n.Self(), cfg.Node.Username)
	if err := n.Connect(ctx); err != nil {
		return err
	}

	if cfg.Admin.Addr != "" {
		admin, err := metrics.NewServer(cfg.Admin.Addr, n, log)
		if err != nil {
			return err
		}
		go func() {
			if err := admin.Start(ctx); err != nil {
				log.Errorf("admin server: %v", err)
			}
		}()
	}

	sh := shell.New(n, shell.Config{
		In:         os.Stdin,
		Out:        os.Stdout,
		Prompt:     shell.Interactive(os.Stdin),
		QueryFile:  cfg.Benchmark.QueryFile,
		BenchDelay: cfg.BenchmarkDelay(),
		Logger:     log,
	})
	return sh.Run(ctx)
}

// loadCatalog falls back to an empty catalog when the file cannot be read.
func loadCatalog(ctx context.Context, cfg *config.Config, log *logrus.Logger) *catalog.Catalog {
	if cfg.Catalog.File == "" {
		log.Warn("No file list configured, sharing nothing")
		return catalog.New()
	}

	files, err := catalog.LoadFile(cfg.Catalog.File, cfg.Catalog.Sample, nil)
	if err != nil {
		log.Errorf("Loading file list: %v", err)
		files = catalog.New()
	}
	log.Infof("Sharing %d files", files.Len())

	if cfg.Catalog.Watch {
		go func() {
			if err := files.Watch(ctx, cfg.Catalog.File, cfg.Catalog.Sample, log); err != nil {
				log.Errorf("Watching file list: %v", err)
			}
		}()
	}
	return files
}
