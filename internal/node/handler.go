package node

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/sirupsen/logrus"
)

// HandleMessage serves every frame that is not a reply to one of our calls.
func (n *Node) HandleMessage(ctx context.Context, from peer.Identity, msg protocol.Message) {
	log := n.logger.WithFields(logrus.Fields{"peer": from.String(), "cmd": msg.Command})

	switch msg.Command {
	case protocol.CmdJoin:
		p, err := protocol.ParsePeer(msg)
		if err != nil {
			log.Warnf("bad JOIN: %v", err)
			return
		}
		n.reply(p, protocol.NewCodeReply(protocol.CmdJoinOK, n.onJoin(p)))

	case protocol.CmdLeave:
		p, err := protocol.ParsePeer(msg)
		if err != nil {
			log.Warnf("bad LEAVE: %v", err)
			return
		}
		n.reply(p, protocol.NewCodeReply(protocol.CmdLeaveOK, n.onLeave(p)))

	case protocol.CmdSearch:
		req, err := protocol.ParseSearch(msg)
		if err != nil {
			log.Warnf("bad SER: %v", err)
			return
		}
		n.onSearch(from, req)

	case protocol.CmdSearchOK:
		reply, err := protocol.ParseSearchOK(msg)
		switch {
		case errors.Is(err, protocol.ErrFileCountMismatch):
			log.Warnf("could not recover every file name: %v", err)
		case err != nil:
			log.Warnf("bad SEROK: %v", err)
			return
		}
		n.onSearchSuccess(reply)

	case protocol.CmdError:
		log.Warn("peer reported an error")

	case protocol.CmdJoinOK, protocol.CmdLeaveOK, protocol.CmdRegOK, protocol.CmdUnregOK:
		log.Debugf("late reply %s", msg)

	default:
		// REG and UNREG are for the rendezvous server, not for nodes
		if msg.Command.Known() {
			log.Warnf("dropping unexpected %s", msg.Command)
			return
		}
		route, err := protocol.ReplyRoute(msg)
		if err != nil {
			log.Warnf("dropping %q: %v", msg.String(), err)
			return
		}
		log.Warnf("unknown command, sending ERROR to %s", route)
		n.reply(route, protocol.NewError())
	}
}

// onJoin reports CodeOK iff p was not a neighbor yet.
func (n *Node) onJoin(p peer.Identity) protocol.ReplyCode {
	if !n.neighbors.Add(p) {
		n.logger.WithField("peer", p.String()).Info("JOIN from existing neighbor")
		return protocol.CodeFailed
	}
	n.logger.WithField("peer", p.String()).Info("Neighbor joined")
	return protocol.CodeOK
}

// onLeave reports CodeOK iff p was a neighbor.
func (n *Node) onLeave(p peer.Identity) protocol.ReplyCode {
	if !n.neighbors.Remove(p) {
		n.logger.WithField("peer", p.String()).Info("LEAVE from unknown peer")
		return protocol.CodeFailed
	}
	n.logger.WithField("peer", p.String()).Info("Neighbor left")
	return protocol.CodeOK
}

func (n *Node) reply(to peer.Identity, msg protocol.Message) {
	if err := n.transport.Send(to, msg); err != nil {
		n.logger.WithFields(logrus.Fields{"peer": to.String(), "cmd": msg.Command}).Errorf("reply failed: %v", err)
	}
}
