package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "meshnoded",
		Short: "peer-to-peer distributed file replication daemon",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(scanOnlyCmd())

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("[main] command failed")
	}
}

func serveCmd() *cobra.Command {
	var tcpPort, discoveryPort int
	var bindAddress string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the replication daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tcp-port") {
				cfg.Network.TCPPort = tcpPort
			}
			if cmd.Flags().Changed("discovery-port") {
				cfg.Network.DiscoveryPort = discoveryPort
			}
			if cmd.Flags().Changed("bind-address") {
				cfg.Network.BindAddress = bindAddress
			}
			return runDaemon(cfg)
		},
	}
	cmd.Flags().IntVar(&tcpPort, "tcp-port", 0, "override network.tcp_port")
	cmd.Flags().IntVar(&discoveryPort, "discovery-port", 0, "override network.discovery_port")
	cmd.Flags().StringVar(&bindAddress, "bind-address", "", "override network.bind_address")
	return cmd
}

func scanOnlyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-only",
		Short: "run the startup scan against the configured VFS root and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			vfs, journal, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			node := NewNode(cfg, resolveNodeName(cfg), vfs, journal, NewPeerRegistry(), nil)
			return node.StartupScan()
		},
	}
}

func configureLogging(cfg Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if !cfg.Logging.ConsoleOutput {
		log.SetOutput(os.Stderr)
	}
}

func openStorage(cfg Config) (*VFS, *Journal, error) {
	vfs, err := NewVFS(cfg.Filesystem.RootPath)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Filesystem.MetadataDB
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.Filesystem.RootPath, dbPath)
	}
	journal, err := OpenJournal(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return vfs, journal, nil
}

// peerLogger is the PeerObserver implementation wired into the registry at
// startup; per spec §9's "no nullable callback fields" design note.
type peerLogger struct{}

func (peerLogger) OnPeerConnected(p Peer) {
	log.WithField("peer", peerKey(p.Address, p.Port)).Info("[peers] connected")
}

func (peerLogger) OnPeerDisconnected(p Peer) {
	log.WithField("peer", peerKey(p.Address, p.Port)).Info("[peers] disconnected")
}

func runDaemon(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	configureLogging(cfg)

	nodeName := resolveNodeName(cfg)
	log.WithField("node", nodeName).Info("[main] starting daemon")

	vfs, journal, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	registry := NewPeerRegistry()
	registry.Subscribe(peerLogger{})

	sampler := GopsutilSampler{DiskPath: cfg.Filesystem.RootPath}
	node := NewNode(cfg, nodeName, vfs, journal, registry, sampler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	liveness := NewLiveness(nodeName, registry, time.Duration(cfg.Network.ReconnectTimeout)*time.Second, cfg.Peers)
	liveness.RegisterStaticPeers()
	go liveness.Run(ctx)

	if cfg.Network.DiscoveryEnabled {
		discovery := NewDiscovery(nodeName, cfg.Network.TCPPort, cfg.Network.DiscoveryPort, registry)
		go discovery.Run(ctx)
	}

	if cfg.Filesystem.SyncOnStartup {
		go func() {
			if err := node.StartupScan(); err != nil {
				log.WithError(err).Warn("[scan] startup scan failed")
			}
		}()
	}

	return node.Serve(ctx)
}
