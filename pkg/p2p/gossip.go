package p2p

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	topicTx   = "overunder-tx"
	topicHead = "overunder-head"
)

// Handlers receive messages published by other peers. Own messages are never delivered.
type Handlers struct {
	OnTx   func(raw []byte) error
	OnHead func(from peer.ID, head HeadWire)
}

// Gossip relays signed transactions and head announcements over GossipSub
type Gossip struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tTx, tHead     *pubsub.Topic
	subTx, subHead *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address: %w", err)
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

	g := &Gossip{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := Connect(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := g.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	go g.handleTx(ctx)
	go g.handleHead(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return g, nil
}

// Connect dials a full /p2p/ multiaddr
func Connect(ctx context.Context, h host.Host, addr string) error {
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

func (g *Gossip) joinTopics() error {
	var err error
	if g.tTx, err = g.ps.Join(topicTx); err != nil {
		return err
	}
	if g.tHead, err = g.ps.Join(topicHead); err != nil {
		return err
	}

	if g.subTx, err = g.tTx.Subscribe(); err != nil {
		return err
	}
	if g.subHead, err = g.tHead.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (g *Gossip) SetHandlers(h Handlers) { g.muH.Lock(); g.handlers = h; g.muH.Unlock() }

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable /p2p/ multiaddrs for this host
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.h.ID()))
	}
	return out
}

// Peers returns the number of connected peers
func (g *Gossip) Peers() int { return len(g.h.Network().Peers()) }

// PublishTx relays a locally admitted transaction
func (g *Gossip) PublishTx(ctx context.Context, raw []byte) error {
	data, err := gobEncode(TxWire{Raw: raw})
	if err != nil {
		return err
	}
	return g.tTx.Publish(ctx, data)
}

// AnnounceHead publishes a committed head
func (g *Gossip) AnnounceHead(ctx context.Context, head HeadWire) error {
	data, err := gobEncode(head)
	if err != nil {
		return err
	}
	return g.tHead.Publish(ctx, data)
}

func (g *Gossip) Close() error {
	g.subTx.Cancel()
	g.subHead.Cancel()
	return g.h.Close()
}

// inbound

func (g *Gossip) handleTx(ctx context.Context) {
	for {
		msg, err := g.subTx.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		var w TxWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}

		g.muH.RLock()
		h := g.handlers
		g.muH.RUnlock()
		if h.OnTx != nil {
			if err := h.OnTx(w.Raw); err != nil {
				g.log.Debugw("gossip_tx_rejected", "from", msg.ReceivedFrom.String(), "err", err)
			}
		}
	}
}

func (g *Gossip) handleHead(ctx context.Context) {
	for {
		msg, err := g.subHead.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		var w HeadWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}

		g.muH.RLock()
		h := g.handlers
		g.muH.RUnlock()
		if h.OnHead != nil {
			h.OnHead(msg.ReceivedFrom, w)
		}
	}
}
