package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/util"
)

const (
	topicAnnounce = "distex-announce"
	mdnsTag       = "distex-orderbook"
)

func protocolFor(service string) protocol.ID {
	return protocol.ID("/distex/" + service + "/1.0.0")
}

// Libp2pNet implements Transport over libp2p: announcements are gossiped on a
// pubsub topic, requests travel on a per-service stream protocol.
type Libp2pNet struct {
	h    host.Host
	ps   *pubsub.PubSub
	log  *zap.SugaredLogger
	self string
	dir  *Directory

	interval time.Duration

	tAnnounce   *pubsub.Topic
	subAnnounce *pubsub.Subscription
	mdns        mdns.Service

	muH      sync.RWMutex
	handlers map[string]Handler
}

type Libp2pConfig struct {
	ListenAddr       string
	Bootstrap        []string
	SelfID           string
	AnnounceInterval time.Duration
	ProviderTTL      time.Duration
	EnableMDNS       bool
	Logger           *zap.SugaredLogger
	Clock            util.Clock
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = time.Second
	}

	net := &Libp2pNet{
		h: h, ps: ps, log: cfg.Logger,
		self:     cfg.SelfID,
		dir:      NewDirectory(cfg.ProviderTTL, cfg.Clock),
		interval: cfg.AnnounceInterval,
		handlers: make(map[string]Handler),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if net.tAnnounce, err = ps.Join(topicAnnounce); err != nil {
		h.Close()
		return nil, err
	}
	if net.subAnnounce, err = net.tAnnounce.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}
	go net.handleAnnounce(ctx)

	if cfg.EnableMDNS {
		net.mdns = mdns.NewMdnsService(h, mdnsTag, &discoveryNotifee{ctx: ctx, h: h, log: cfg.Logger})
		if err := net.mdns.Start(); err != nil {
			cfg.Logger.Warnw("mdns_start_failed", "err", err)
		}
	}

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

type discoveryNotifee struct {
	ctx context.Context
	h   host.Host
	log *zap.SugaredLogger
}

func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.h.ID() {
		return
	}
	if err := d.h.Connect(d.ctx, pi); err != nil {
		d.log.Debugw("mdns_connect_failed", "peer", pi.ID.String(), "err", err)
	}
}

func (n *Libp2pNet) Host() host.Host { return n.h }

// Connect dials another node directly (tests and static bootstrapping).
func (n *Libp2pNet) Connect(ctx context.Context, info peer.AddrInfo) error {
	return n.h.Connect(ctx, info)
}

// implement Transport

func (n *Libp2pNet) Announce(ctx context.Context, service string, h Handler) error {
	n.muH.Lock()
	n.handlers[service] = h
	n.muH.Unlock()

	n.h.SetStreamHandler(protocolFor(service), func(s network.Stream) { n.handleStream(service, s) })
	n.dir.Observe(service, n.self, n.h.ID())

	if err := n.publishAnnounce(ctx, service); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				n.h.RemoveStreamHandler(protocolFor(service))
				return
			case <-ticker.C:
				n.dir.Observe(service, n.self, n.h.ID())
				if err := n.publishAnnounce(ctx, service); err != nil && ctx.Err() == nil {
					n.log.Warnw("announce_failed", "service", service, "err", err)
				}
			}
		}
	}()
	return nil
}

func (n *Libp2pNet) publishAnnounce(ctx context.Context, service string) error {
	addrs := make([]string, 0, len(n.h.Addrs()))
	for _, a := range n.h.Addrs() {
		addrs = append(addrs, a.String())
	}
	data, err := gobEncode(AnnounceWire{Service: service, NodeID: n.self, Peer: n.h.ID().String(), Addrs: addrs})
	if err != nil {
		return err
	}
	return n.tAnnounce.Publish(ctx, data)
}

func (n *Libp2pNet) Providers(service string) []string {
	return n.dir.Providers(service)
}

func (n *Libp2pNet) Request(ctx context.Context, service, nodeID string, payload []byte) ([]byte, error) {
	if nodeID == n.self {
		return n.requestSelf(ctx, service, payload)
	}
	pid, ok := n.dir.Lookup(service, nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoProvider, service, nodeID)
	}

	s, err := n.h.NewStream(ctx, pid, protocolFor(service))
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Reset() })
	defer stop()

	if _, err := s.Write(payload); err != nil {
		return nil, n.streamErr(ctx, err)
	}
	if err := s.CloseWrite(); err != nil {
		return nil, n.streamErr(ctx, err)
	}
	reply, err := io.ReadAll(s)
	if err != nil {
		return nil, n.streamErr(ctx, err)
	}
	return reply, nil
}

// streamErr prefers the context error so callers can tell timeouts apart.
func (n *Libp2pNet) streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// requestSelf short-circuits delivery to our own handler; libp2p cannot dial
// its own host.
func (n *Libp2pNet) requestSelf(ctx context.Context, service string, payload []byte) ([]byte, error) {
	n.muH.RLock()
	h, ok := n.handlers[service]
	n.muH.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoProvider, service, n.self)
	}
	done := make(chan []byte, 1)
	go func() { done <- h(context.Background(), payload) }()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-done:
		return reply, nil
	}
}

func (n *Libp2pNet) Close() error {
	if n.mdns != nil {
		n.mdns.Close()
	}
	n.subAnnounce.Cancel()
	return n.h.Close()
}

// inbound

func (n *Libp2pNet) handleStream(service string, s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		_ = s.Reset()
		return
	}

	n.muH.RLock()
	h := n.handlers[service]
	n.muH.RUnlock()
	if h == nil {
		_ = s.Reset()
		return
	}

	reply := h(context.Background(), data)
	if _, err := s.Write(reply); err != nil {
		n.log.Debugw("reply_write_failed", "service", service, "peer", s.Conn().RemotePeer().String(), "err", err)
	}
}

func (n *Libp2pNet) handleAnnounce(ctx context.Context) {
	for {
		msg, err := n.subAnnounce.Next(ctx)
		if err != nil {
			return
		}
		var w AnnounceWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		pid, err := peer.Decode(w.Peer)
		if err != nil || pid != msg.GetFrom() {
			continue
		}
		if pid == n.h.ID() {
			continue
		}
		var addrs []ma.Multiaddr
		for _, a := range w.Addrs {
			if m, err := ma.NewMultiaddr(a); err == nil {
				addrs = append(addrs, m)
			}
		}
		n.h.Peerstore().AddAddrs(pid, addrs, time.Hour)
		n.dir.Observe(w.Service, w.NodeID, pid)
	}
}

var _ Transport = (*Libp2pNet)(nil)
