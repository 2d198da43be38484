package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Query is a search this node originated.
type Query struct {
	ID        uuid.UUID
	Text      string
	Neighbors []peer.Identity
	SentAt    time.Time
}

// SearchResult is the outcome of evaluating a query against one catalog.
// On a match Files holds the names; otherwise SelectedNeighbors holds where
// the query goes next. Replies at the originator also carry HopCount and
// Latency, measured from the most recent search sent.
type SearchResult struct {
	ID                uuid.UUID
	Query             string
	Success           bool
	Files             []string
	Owner             peer.Identity
	SelectedNeighbors []peer.Identity
	HopCount          int
	Latency           time.Duration
}

// Search sends query to up to two random neighbors with the full hop
// budget. Replies arrive on Results.
func (n *Node) Search(query string) (Query, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Query{}, ErrEmptyQuery
	}

	msg := protocol.NewSearch(protocol.SearchRequest{Origin: n.self, Query: query, Hops: n.hopsMax})
	if err := msg.Validate(); err != nil {
		return Query{}, fmt.Errorf("query %q: %w", query, err)
	}

	targets := n.neighbors.Sample(fanout)
	if len(targets) == 0 {
		return Query{}, ErrNoNeighbors
	}

	q := Query{
		ID:        uuid.New(),
		Text:      query,
		Neighbors: targets,
		SentAt:    time.Now(),
	}
	n.searchMu.Lock()
	n.lastSearch = q
	n.searchMu.Unlock()

	for _, p := range targets {
		if err := n.transport.Send(p, msg); err != nil {
			n.logger.WithFields(logrus.Fields{"peer": p.String(), "cmd": msg.Command}).Errorf("search send failed: %v", err)
		}
	}

	n.logger.WithField("id", q.ID.String()).Infof("Searching %q via %d neighbors", query, len(targets))
	return q, nil
}

// evaluate matches query against the local catalog. When nothing matches
// it picks the next hops, leaving out the originator and the peer the
// query arrived from.
func (n *Node) evaluate(query string, origin, previousHop peer.Identity) SearchResult {
	result := SearchResult{Query: query, Owner: n.self}

	if files := n.catalog.Match(query); len(files) > 0 {
		result.Success = true
		result.Files = files
		return result
	}

	result.SelectedNeighbors = n.neighbors.Sample(fanout, origin, previousHop)
	return result
}

func (n *Node) onSearch(from peer.Identity, req protocol.SearchRequest) {
	n.stats.received.Add(1)

	log := n.logger.WithFields(logrus.Fields{"origin": req.Origin.String(), "peer": from.String(), "hops": req.Hops})
	log.Infof("Search request for %q", req.Query)

	result := n.evaluate(req.Query, req.Origin, from)
	if result.Success {
		reply := protocol.NewSearchOK(protocol.SearchReply{Owner: n.self, Hops: req.Hops, Files: result.Files})
		if err := n.transport.Send(req.Origin, reply); err != nil {
			log.Errorf("search reply failed: %v", err)
		}
		n.stats.answered.Add(1)
		log.Infof("Answered with %d files", len(result.Files))
		return
	}

	if req.Hops <= 0 {
		log.Info("Hop limit reached, dropping query")
		return
	}

	fwd := protocol.NewSearch(protocol.SearchRequest{Origin: req.Origin, Query: req.Query, Hops: req.Hops - 1})
	for _, p := range result.SelectedNeighbors {
		if err := n.transport.Send(p, fwd); err != nil {
			log.WithField("next", p.String()).Errorf("forward failed: %v", err)
		}
		n.stats.forwarded.Add(1)
	}
	if len(result.SelectedNeighbors) == 0 {
		log.Info("No neighbor left to forward to")
	}
}

func (n *Node) onSearchSuccess(reply protocol.SearchReply) {
	n.searchMu.Lock()
	last := n.lastSearch
	n.searchMu.Unlock()

	var latency time.Duration
	if !last.SentAt.IsZero() {
		latency = time.Since(last.SentAt)
	}

	result := SearchResult{
		ID:       last.ID,
		Query:    last.Text,
		Success:  true,
		Files:    reply.Files,
		Owner:    reply.Owner,
		HopCount: n.hopsMax - reply.Hops,
		Latency:  latency,
	}

	n.logger.WithFields(logrus.Fields{"peer": reply.Owner.String(), "hops": result.HopCount}).
		Infof("Found %d files in %d ms", len(reply.Files), latency.Milliseconds())

	select {
	case n.results <- result:
	default:
		n.logger.Warn("result buffer full, dropping search result")
	}
}
