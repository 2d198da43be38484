package tracker

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/rudransh-shrivastava/peer-seek/internal/db"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/rudransh-shrivastava/peer-seek/internal/store"
	"github.com/rudransh-shrivastava/peer-seek/internal/transport"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const DefaultMaxNeighbors = 2

type Config struct {
	Addr string
	// MaxNeighbors is how many registered peers a REG reply offers.
	MaxNeighbors int
	// Capacity caps the number of registrations; zero means unlimited.
	Capacity int
	// Database is the sqlite path used when Registry is nil.
	Database string
	Registry store.RegistrationRepository
	Logger   *logrus.Logger
	RandFn   func(n int) int
}

// Server is the rendezvous service nodes register with to learn their
// first neighbors.
type Server struct {
	config    Config
	logger    *logrus.Logger
	transport *transport.Transport
	registry  store.RegistrationRepository
	ownedDB   *gorm.DB

	// serializes REG so each duplicate and capacity check sees the
	// inserts before it
	mu sync.Mutex
}

func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MaxNeighbors == 0 {
		cfg.MaxNeighbors = DefaultMaxNeighbors
	}
	if cfg.RandFn == nil {
		cfg.RandFn = rand.Intn
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		registry: cfg.Registry,
	}

	if s.registry == nil {
		path := cfg.Database
		if path == "" {
			path = ":memory:"
		}
		gormDB, err := db.Open(path)
		if err != nil {
			return nil, err
		}
		s.ownedDB = gormDB
		s.registry = store.NewRegistrationStore(gormDB)
	}

	tr, err := transport.New(transport.Config{Addr: cfg.Addr, Logger: logger})
	if err != nil {
		if s.ownedDB != nil {
			_ = db.Close(s.ownedDB)
		}
		return nil, err
	}
	s.transport = tr
	return s, nil
}

func (s *Server) Addr() string {
	return s.transport.Addr()
}

func (s *Server) Identity() peer.Identity {
	return s.transport.Identity()
}

// Start serves REG and UNREG until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.transport.Listen(s)
	s.logger.WithField("addr", s.Addr()).Info("Rendezvous server started")

	<-ctx.Done()
	s.transport.Unlisten()
	return ctx.Err()
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down rendezvous server")
	err := s.transport.Close()
	if s.ownedDB != nil {
		err = errors.Join(err, db.Close(s.ownedDB))
	}
	return err
}

func (s *Server) HandleMessage(ctx context.Context, from peer.Identity, msg protocol.Message) {
	switch msg.Command {
	case protocol.CmdRegister:
		s.reply(from, msg, s.handleRegister(ctx, msg))
	case protocol.CmdUnregister:
		s.reply(from, msg, s.handleUnregister(ctx, msg))
	default:
		route, err := protocol.ReplyRoute(msg)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"peer": from.String(), "cmd": msg.Command}).Warnf("unhandled frame: %v", err)
			return
		}
		s.reply(route, msg, protocol.NewError())
	}
}

func (s *Server) reply(to peer.Identity, req, resp protocol.Message) {
	if err := s.transport.Send(to, resp); err != nil {
		s.logger.WithFields(logrus.Fields{"peer": to.String(), "cmd": req.Command}).Errorf("failed to reply: %v", err)
	}
}

func (s *Server) handleRegister(ctx context.Context, msg protocol.Message) protocol.Message {
	failed := protocol.NewCodeReply(protocol.CmdRegOK, protocol.CodeFailed)

	node, err := protocol.ParsePeer(msg)
	if err != nil || node.Name == "" {
		s.logger.WithField("cmd", msg.Command).Warnf("bad registration %q", msg.String())
		return failed
	}
	log := s.logger.WithFields(logrus.Fields{"peer": node.String(), "user": node.Name})

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.registry.GetRegistration(ctx, node.Host, node.Port)
	switch {
	case err == nil && existing.Username == node.Name:
		log.Info("already registered")
		return protocol.NewCodeReply(protocol.CmdRegOK, protocol.CodeAlreadyRegistered)
	case err == nil:
		log.Warnf("address already registered to %s", existing.Username)
		return protocol.NewCodeReply(protocol.CmdRegOK, protocol.CodeRegisteredToOther)
	case !errors.Is(err, store.ErrNotFound):
		log.Errorf("registry lookup failed: %v", err)
		return failed
	}

	if s.config.Capacity > 0 {
		count, err := s.registry.CountRegistrations(ctx)
		if err != nil {
			log.Errorf("registry count failed: %v", err)
			return failed
		}
		if count >= int64(s.config.Capacity) {
			log.Warn("registry full")
			return protocol.NewCodeReply(protocol.CmdRegOK, protocol.CodeRegistryFull)
		}
	}

	regs, err := s.registry.ListRegistrations(ctx)
	if err != nil {
		log.Errorf("registry list failed: %v", err)
		return failed
	}

	known := make([]peer.Identity, 0, len(regs))
	for _, r := range regs {
		known = append(known, peer.New(r.Host, r.Port, r.Username))
	}
	offered := peer.SelectRandom(known, s.config.MaxNeighbors, s.config.RandFn)

	if _, err := s.registry.CreateRegistration(ctx, node.Host, node.Port, node.Name); err != nil {
		log.Errorf("registry insert failed: %v", err)
		return failed
	}

	log.Infof("registered, offering %d peers", len(offered))
	return protocol.NewRegisterOK(offered)
}

func (s *Server) handleUnregister(ctx context.Context, msg protocol.Message) protocol.Message {
	node, err := protocol.ParsePeer(msg)
	if err != nil {
		s.logger.WithField("cmd", msg.Command).Warnf("bad unregistration %q", msg.String())
		return protocol.NewCodeReply(protocol.CmdUnregOK, protocol.CodeFailed)
	}

	removed, err := s.registry.DeleteRegistration(ctx, node.Host, node.Port)
	if err != nil || !removed {
		s.logger.WithField("peer", node.String()).Warnf("nothing to unregister (err=%v)", err)
		return protocol.NewCodeReply(protocol.CmdUnregOK, protocol.CodeFailed)
	}

	s.logger.WithField("peer", node.String()).Info("unregistered")
	return protocol.NewCodeReply(protocol.CmdUnregOK, protocol.CodeOK)
}

// Registered lists the current registrations, oldest first.
func (s *Server) Registered(ctx context.Context) ([]peer.Identity, error) {
	regs, err := s.registry.ListRegistrations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]peer.Identity, 0, len(regs))
	for _, r := range regs {
		out = append(out, peer.New(r.Host, r.Port, r.Username))
	}
	return out, nil
}
