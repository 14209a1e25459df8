package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/distex/params"
	"github.com/uhyunpark/distex/pkg/api"
	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/broadcast"
	"github.com/uhyunpark/distex/pkg/client"
	"github.com/uhyunpark/distex/pkg/node"
	"github.com/uhyunpark/distex/pkg/p2p"
	"github.com/uhyunpark/distex/pkg/storage"
	"github.com/uhyunpark/distex/pkg/util"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "distex",
		Short:         "Leaderless peer-to-peer order book",
		SilenceUsage: true,
	}
	root.AddCommand(startCmd())
	return root
}

func startCmd() *cobra.Command {
	var envPath string
	var nodes, apiOffset int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start N local nodes, each with a synthetic client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := params.LoadFromEnv(envPath)
			if cmd.Flags().Changed("nodes") {
				cfg.Node.Nodes = nodes
			}
			if cmd.Flags().Changed("api-port-offset") {
				cfg.Node.APIPortOffset = apiOffset
			}
			if err := checkNodes(cfg.Node.Nodes); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&envPath, "env", "", "path to .env file (default ./.env)")
	cmd.Flags().IntVar(&nodes, "nodes", 3, "number of nodes to run")
	cmd.Flags().IntVar(&apiOffset, "api-port-offset", 0, "serve each node's HTTP API on port+offset (0 disables)")
	return cmd
}

// minNodes is the smallest cluster that can trade: the matcher never pairs a
// node's orders with its own.
const minNodes = 2

func checkNodes(n int) error {
	if n < minNodes {
		return fmt.Errorf("need at least %d nodes, got %d", minNodes, n)
	}
	return nil
}

func newLogger(cfg params.Log) (*zap.Logger, error) {
	if cfg.File != "" {
		return util.NewLoggerWithFile(cfg.File, cfg.Verbose)
	}
	return util.NewLogger(cfg.Verbose)
}

// pickPorts draws n distinct ports in [1024, 2024).
func pickPorts(n int) []int {
	seen := make(map[int]bool, n)
	ports := make([]int, 0, n)
	for len(ports) < n {
		p := 1024 + rand.IntN(1000)
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	return ports
}

func run(ctx context.Context, cfg params.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	g, ctx := errgroup.WithContext(ctx)
	var started []*node.Node
	var nets []*p2p.Libp2pNet
	defer func() {
		for _, n := range nets {
			n.Close()
		}
	}()

	for _, port := range pickPorts(cfg.Node.Nodes) {
		id := book.NodeID(strconv.Itoa(port))
		log := sugar.Named(string(id))

		net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr:       fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", port),
			Bootstrap:        cfg.Network.Bootstrap,
			SelfID:           string(id),
			AnnounceInterval: cfg.Network.AnnounceInterval,
			ProviderTTL:      cfg.Network.ProviderTTL,
			EnableMDNS:       cfg.Network.MDNS,
			Logger:           log,
		})
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		// nodes of one process find each other without waiting for mDNS
		for _, other := range nets {
			info := peer.AddrInfo{ID: other.Host().ID(), Addrs: other.Host().Addrs()}
			if err := net.Connect(ctx, info); err != nil {
				log.Warnw("local_connect_failed", "peer", info.ID.String(), "err", err)
			}
		}
		nets = append(nets, net)

		journalDir := ""
		if cfg.Node.JournalDir != "" {
			journalDir = filepath.Join(cfg.Node.JournalDir, string(id))
		}
		journal, err := storage.OpenJournal(journalDir)
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		defer journal.Close()

		n := node.New(node.Config{
			ID:             id,
			Service:        cfg.Network.Service,
			MatchInterval:  cfg.Node.MatchInterval,
			RequestTimeout: cfg.Network.RequestTimeout,
			Journal:        journal,
			Logger:         log,
		}, net)
		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		started = append(started, n)

		c := &client.Client{
			Node:      id,
			Sender:    broadcast.New(net, cfg.Network.Service, book.NodeID("client-"+string(id)), cfg.Network.RequestTimeout, log, nil),
			Generator: client.NewGenerator(uint64(port)),
			Delay:     cfg.Client.Delay,
			Interval:  cfg.Client.Interval,
			Logger:    log.Named("client"),
		}
		g.Go(func() error { return ignoreCanceled(c.Run(ctx)) })

		if cfg.Node.APIPortOffset > 0 {
			srv := api.NewServer(n, log)
			addr := fmt.Sprintf("127.0.0.1:%d", port+cfg.Node.APIPortOffset)
			g.Go(func() error { return srv.Start(ctx, addr) })
		}
	}

	sugar.Infow("cluster_started", "nodes", len(started), "service", cfg.Network.Service)
	err = g.Wait()
	for _, n := range started {
		n.Wait()
	}
	sugar.Infow("cluster_stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
