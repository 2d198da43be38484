package tracker

import (
	"context"
	"fmt"

	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Caller is the request/reply half of the transport.
type Caller interface {
	Call(ctx context.Context, dst peer.Identity, msg protocol.Message, expect ...protocol.Command) (protocol.Message, error)
}

// Client registers a node with the rendezvous server and unregisters it on
// the way out.
type Client struct {
	caller Caller
	server peer.Identity
	self   peer.Identity
	logger *logrus.Logger
}

func NewClient(caller Caller, server, self peer.Identity, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		caller: caller,
		server: server,
		self:   self,
		logger: logger,
	}
}

func (c *Client) Server() peer.Identity {
	return c.server
}

// Register announces the node and returns the peers the server offered.
// An error code from the server is logged and yields an empty list.
func (c *Client) Register(ctx context.Context) ([]peer.Identity, error) {
	reply, err := c.caller.Call(ctx, c.server, protocol.NewRegister(c.self), protocol.CmdRegOK)
	if err != nil {
		return nil, fmt.Errorf("register with %s: %w", c.server, err)
	}

	count, peers, err := protocol.ParseRegisterOK(reply)
	if err != nil {
		return nil, fmt.Errorf("register with %s: %w", c.server, err)
	}

	log := c.logger.WithField("peer", c.server.String())
	if count >= protocol.RegisterErrorThreshold {
		log.Warnf("registration refused: %s (%d)", protocol.ReplyCode(count), count)
		return []peer.Identity{}, nil
	}

	log.Infof("registered, %d peers offered", len(peers))
	return peers, nil
}

// Unregister reports whether the server confirmed the removal.
func (c *Client) Unregister(ctx context.Context) (bool, error) {
	reply, err := c.caller.Call(ctx, c.server, protocol.NewUnregister(c.self), protocol.CmdUnregOK)
	if err != nil {
		return false, fmt.Errorf("unregister from %s: %w", c.server, err)
	}

	value, err := protocol.ParseCode(reply)
	if err != nil {
		return false, fmt.Errorf("unregister from %s: %w", c.server, err)
	}

	ok := value < 1
	if !ok {
		c.logger.WithField("peer", c.server.String()).Warnf("unregister refused with %d", value)
	}
	return ok, nil
}
