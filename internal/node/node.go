// Package node runs one overlay participant: it joins the overlay through the
// rendezvous server, answers and floods searches, and leaves cleanly.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/catalog"
	"github.com/rudransh-shrivastava/peer-seek/internal/logger"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/rudransh-shrivastava/peer-seek/internal/tracker"
	"github.com/rudransh-shrivastava/peer-seek/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	// fanout is how many neighbors each search step is sent to.
	fanout = 2

	DefaultRejoinBackoff = 2000 * time.Millisecond
	resultBuffer         = 64
)

var (
	ErrNoNeighbors = errors.New("no neighbors to search")
	ErrEmptyQuery  = errors.New("empty query")
	ErrClosed      = errors.New("node disconnected")
)

// Transport is what the node needs from the UDP layer.
type Transport interface {
	Call(ctx context.Context, dst peer.Identity, msg protocol.Message, expect ...protocol.Command) (protocol.Message, error)
	Send(dst peer.Identity, msg protocol.Message) error
	Listen(h transport.Handler)
	Unlisten()
	CallTimeout() time.Duration
	Close() error
}

type Options struct {
	// Self is the advertised identity. Port 0 binds an ephemeral port and
	// advertises whatever was assigned.
	Self    peer.Identity
	Tracker peer.Identity
	HopsMax int

	CallTimeout   time.Duration
	RejoinBackoff time.Duration

	Catalog *catalog.Catalog
	// Transport is bound from Self when nil.
	Transport Transport
	Logger    *logrus.Logger
	RandFn    func(n int) int
}

type Node struct {
	self          peer.Identity
	hopsMax       int
	rejoinBackoff time.Duration

	transport     Transport
	ownsTransport bool
	tracker       *tracker.Client
	neighbors     *peer.Table
	catalog       *catalog.Catalog
	stats         *Statistics
	logger        *logrus.Logger

	results chan SearchResult

	searchMu   sync.Mutex
	lastSearch Query

	mu           sync.Mutex
	connected    bool
	disconnected bool
}

func New(opts Options) (*Node, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	if opts.HopsMax < 0 {
		return nil, fmt.Errorf("hops max must not be negative, got %d", opts.HopsMax)
	}
	if opts.RejoinBackoff <= 0 {
		opts.RejoinBackoff = DefaultRejoinBackoff
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.New()
	}

	self := opts.Self
	tr := opts.Transport
	owns := false
	if tr == nil {
		bound, err := transport.New(transport.Config{
			Addr:        self.String(),
			CallTimeout: opts.CallTimeout,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		if self.Port == 0 {
			self.Port = bound.Identity().Port
		}
		tr = bound
		owns = true
	}

	neighbors := peer.NewTable()
	if opts.RandFn != nil {
		neighbors = peer.NewTableWithRand(opts.RandFn)
	}

	return &Node{
		self:          self,
		hopsMax:       opts.HopsMax,
		rejoinBackoff: opts.RejoinBackoff,
		transport:     tr,
		ownsTransport: owns,
		tracker:       tracker.NewClient(tr, opts.Tracker, self, log),
		neighbors:     neighbors,
		catalog:       opts.Catalog,
		stats:         &Statistics{},
		logger:        log,
		results:       make(chan SearchResult, resultBuffer),
	}, nil
}

func (n *Node) Self() peer.Identity {
	return n.self
}

func (n *Node) Neighbors() []peer.Identity {
	return n.neighbors.List()
}

func (n *Node) Files() []string {
	return n.catalog.Files()
}

func (n *Node) Catalog() *catalog.Catalog {
	return n.catalog
}

func (n *Node) Stats() StatsSnapshot {
	return n.stats.Snapshot()
}

func (n *Node) ResetStats() {
	n.stats.Reset()
}

func (n *Node) HopsMax() int {
	return n.hopsMax
}

// Results delivers one SearchResult per SEROK received. The channel is
// never closed.
func (n *Node) Results() <-chan SearchResult {
	return n.results
}

func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected && !n.disconnected
}

// Connect registers with the rendezvous server and joins the offered peers.
// If peers were offered but none accepted, it unregisters, waits and tries
// again. Inbound frames are handled once it returns nil.
func (n *Node) Connect(ctx context.Context) error {
	n.mu.Lock()
	if n.disconnected {
		n.mu.Unlock()
		return ErrClosed
	}
	n.mu.Unlock()

	for attempt := 1; ; attempt++ {
		offered, err := n.tracker.Register(ctx)
		if err != nil {
			return err
		}

		joined := 0
		for _, p := range offered {
			ok, err := n.join(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				n.logger.WithField("peer", p.String()).Warnf("join failed: %v", err)
				continue
			}
			if !ok {
				n.logger.WithField("peer", p.String()).Warn("Could not join neighbor")
				continue
			}
			n.neighbors.Add(p)
			joined++
		}

		if len(offered) == 0 || joined > 0 {
			break
		}

		n.logger.Warnf("Failed to join any of %d offered neighbors (attempt %d), registering again", len(offered), attempt)
		if _, err := n.tracker.Unregister(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.rejoinBackoff):
		}
	}

	n.transport.Listen(n)

	n.mu.Lock()
	n.connected = true
	n.mu.Unlock()

	n.logger.WithField("addr", n.self.String()).Infof("Connected with %d neighbors", n.neighbors.Len())
	return nil
}

func (n *Node) join(ctx context.Context, p peer.Identity) (bool, error) {
	reply, err := n.transport.Call(ctx, p, protocol.NewJoin(n.self), protocol.CmdJoinOK)
	if err != nil {
		return false, err
	}
	code, err := protocol.ParseCode(reply)
	if err != nil {
		return false, err
	}
	return code == int(protocol.CodeOK), nil
}

// Disconnect stops handling inbound frames, says LEAVE to every neighbor and
// unregisters. Each of those calls gets a single call timeout so shutdown
// cannot hang on an unreachable peer. Errors are logged, not returned.
func (n *Node) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	if n.disconnected {
		n.mu.Unlock()
		return nil
	}
	n.disconnected = true
	n.mu.Unlock()

	n.transport.Unlisten()

	timeout := n.transport.CallTimeout()
	for _, p := range n.neighbors.Clear() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := n.transport.Call(callCtx, p, protocol.NewLeave(n.self), protocol.CmdLeaveOK)
		cancel()

		log := n.logger.WithField("peer", p.String())
		if err != nil {
			log.Warnf("leave failed: %v", err)
			continue
		}
		if code, err := protocol.ParseCode(reply); err != nil || code != int(protocol.CodeOK) {
			log.Warnf("leave refused: %s", reply)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	if _, err := n.tracker.Unregister(callCtx); err != nil {
		n.logger.Warnf("unregister failed: %v", err)
	}
	cancel()

	if n.ownsTransport {
		if err := n.transport.Close(); err != nil {
			n.logger.Warnf("closing transport: %v", err)
		}
	}
	n.logger.WithField("addr", n.self.String()).Info("Disconnected")
	return nil
}
