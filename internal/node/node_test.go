package node

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/catalog"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	selfID    = peer.New("127.0.0.1", 5000, "self")
	trackerID = peer.New("127.0.0.1", 55555, "")
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setupNode(t *testing.T, ft *fakeTransport, hopsMax int, files ...string) *Node {
	t.Helper()

	n, err := New(Options{
		Self:          selfID,
		Tracker:       trackerID,
		HopsMax:       hopsMax,
		RejoinBackoff: 10 * time.Millisecond,
		Catalog:       catalog.New(files...),
		Transport:     ft,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	return n
}

func local(port int) peer.Identity {
	return peer.New("127.0.0.1", port, "")
}

func peerFields(p peer.Identity) []string {
	return []string{p.Host, p.PortString()}
}

func TestNewRejectsNegativeHops(t *testing.T) {
	_, err := New(Options{Self: selfID, HopsMax: -1, Transport: &fakeTransport{}})
	assert.Error(t, err)
}

func TestOnJoin(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	ctx := context.Background()
	joiner := local(6001)

	join := protocol.Message{Command: protocol.CmdJoin, Fields: peerFields(joiner)}
	n.HandleMessage(ctx, joiner, join)
	n.HandleMessage(ctx, joiner, join)

	sent := ft.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, joiner, sent[0].to)
	assert.Equal(t, protocol.NewCodeReply(protocol.CmdJoinOK, protocol.CodeOK), sent[0].msg)
	assert.Equal(t, protocol.NewCodeReply(protocol.CmdJoinOK, protocol.CodeFailed), sent[1].msg)
	assert.Equal(t, []peer.Identity{joiner}, n.Neighbors())
}

func TestOnLeave(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	ctx := context.Background()
	p := local(6001)
	n.neighbors.Add(p)

	leave := protocol.Message{Command: protocol.CmdLeave, Fields: peerFields(p)}
	n.HandleMessage(ctx, p, leave)
	n.HandleMessage(ctx, p, leave)

	sent := ft.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.NewCodeReply(protocol.CmdLeaveOK, protocol.CodeOK), sent[0].msg)
	assert.Equal(t, protocol.NewCodeReply(protocol.CmdLeaveOK, protocol.CodeFailed), sent[1].msg)
	assert.Empty(t, n.Neighbors())
}

func TestOnSearchMatchRepliesToOrigin(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2, "Lord of the Rings", "Glee")
	n.neighbors.Add(local(6002))

	origin := local(7000)
	prev := local(6001)
	ser := protocol.NewSearch(protocol.SearchRequest{Origin: origin, Query: "rings", Hops: 1})
	n.HandleMessage(context.Background(), prev, ser)

	sent := ft.sentFrames()
	require.Len(t, sent, 1, "a match must not be forwarded")
	assert.Equal(t, origin, sent[0].to)

	reply, err := protocol.ParseSearchOK(sent[0].msg)
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Hops, "the hop value is echoed unchanged")
	assert.Equal(t, []string{"Lord of the Rings"}, reply.Files)
	assert.True(t, reply.Owner.Equal(selfID))

	assert.Equal(t, StatsSnapshot{Received: 1, Answered: 1}, n.Stats())
}

func TestOnSearchForwardsExcludingOriginAndPreviousHop(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)

	origin := local(7000)
	prev := local(6001)
	for _, p := range []peer.Identity{origin, prev, local(6002), local(6003), local(6004)} {
		n.neighbors.Add(p)
	}

	for i := 0; i < 20; i++ {
		ser := protocol.NewSearch(protocol.SearchRequest{Origin: origin, Query: "missing", Hops: 2})
		n.HandleMessage(context.Background(), prev, ser)
	}

	sent := ft.sentFrames()
	require.Len(t, sent, 40)
	for _, f := range sent {
		assert.False(t, f.to.Equal(origin))
		assert.False(t, f.to.Equal(prev))

		req, err := protocol.ParseSearch(f.msg)
		require.NoError(t, err)
		assert.Equal(t, 1, req.Hops)
		assert.True(t, req.Origin.Equal(origin), "forwarded queries keep the originator")
		assert.Equal(t, "missing", req.Query)
	}
	assert.Equal(t, StatsSnapshot{Received: 20, Forwarded: 40}, n.Stats())
}

func TestOnSearchDropsAtZeroHops(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	n.neighbors.Add(local(6002))

	ser := protocol.NewSearch(protocol.SearchRequest{Origin: local(7000), Query: "missing", Hops: 0})
	n.HandleMessage(context.Background(), local(6001), ser)

	assert.Empty(t, ft.sentFrames())
	assert.Equal(t, StatsSnapshot{Received: 1}, n.Stats())
}

func TestOnSearchNoEligibleNeighbor(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	origin := local(7000)
	prev := local(6001)
	n.neighbors.Add(origin)
	n.neighbors.Add(prev)

	n.HandleMessage(context.Background(), prev, protocol.NewSearch(protocol.SearchRequest{Origin: origin, Query: "x", Hops: 2}))

	assert.Empty(t, ft.sentFrames())
	assert.Equal(t, int64(0), n.Stats().Forwarded)
}

func TestEvaluate(t *testing.T) {
	n := setupNode(t, &fakeTransport{}, 2, "Adventures of Tintin")
	n.neighbors.Add(local(6001))
	n.neighbors.Add(local(6002))

	hit := n.evaluate("TINTIN", local(7000), local(6001))
	assert.True(t, hit.Success)
	assert.Equal(t, []string{"Adventures of Tintin"}, hit.Files)
	assert.Empty(t, hit.SelectedNeighbors)

	miss := n.evaluate("glee", local(7000), local(6001))
	assert.False(t, miss.Success)
	assert.Equal(t, []peer.Identity{local(6002)}, miss.SelectedNeighbors)
}

func TestSearchSendsToAtMostTwoNeighbors(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 3)
	for _, port := range []int{6001, 6002, 6003} {
		n.neighbors.Add(local(port))
	}

	q, err := n.Search("  Tintin ")
	require.NoError(t, err)
	assert.Equal(t, "Tintin", q.Text)
	assert.Len(t, q.Neighbors, 2)

	sent := ft.sentFrames()
	require.Len(t, sent, 2)
	assert.False(t, sent[0].to.Equal(sent[1].to))
	for _, f := range sent {
		req, err := protocol.ParseSearch(f.msg)
		require.NoError(t, err)
		assert.True(t, req.Origin.Equal(selfID))
		assert.Equal(t, 3, req.Hops)
		assert.Equal(t, "Tintin", req.Query)
	}
}

func TestSearchErrors(t *testing.T) {
	n := setupNode(t, &fakeTransport{}, 2)

	_, err := n.Search("Tintin")
	assert.ErrorIs(t, err, ErrNoNeighbors)

	n.neighbors.Add(local(6001))
	_, err = n.Search("   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchSuccessReportsHopCount(t *testing.T) {
	const hopsMax = 3
	ft := &fakeTransport{}
	n := setupNode(t, ft, hopsMax)
	n.neighbors.Add(local(6001))

	q, err := n.Search("Glee")
	require.NoError(t, err)

	owner := local(6009)
	for hops := 0; hops <= hopsMax; hops++ {
		reply := protocol.NewSearchOK(protocol.SearchReply{Owner: owner, Hops: hops, Files: []string{"Glee"}})
		n.HandleMessage(context.Background(), owner, reply)

		select {
		case res := <-n.Results():
			assert.Equal(t, q.ID, res.ID)
			assert.Equal(t, "Glee", res.Query)
			assert.True(t, res.Success)
			assert.Equal(t, hopsMax-hops, res.HopCount, "remaining hops %d", hops)
			assert.Equal(t, []string{"Glee"}, res.Files)
			assert.True(t, res.Owner.Equal(owner))
			assert.GreaterOrEqual(t, res.Latency, time.Duration(0))
		case <-time.After(time.Second):
			t.Fatalf("expected a search result for hops %d", hops)
		}
	}
}

func TestSearchSuccessWithWrongCountKeepsNames(t *testing.T) {
	n := setupNode(t, &fakeTransport{}, 2)
	n.neighbors.Add(local(6001))
	_, err := n.Search("Glee")
	require.NoError(t, err)

	owner := local(6009)
	msg := protocol.Message{Command: protocol.CmdSearchOK, Fields: []string{"3", owner.Host, owner.PortString(), "1", "Glee", "Glee Club"}}
	n.HandleMessage(context.Background(), owner, msg)

	select {
	case res := <-n.Results():
		assert.Equal(t, []string{"Glee", "Glee Club"}, res.Files)
		assert.Equal(t, 1, res.HopCount)
	case <-time.After(time.Second):
		t.Fatal("expected a search result")
	}
}

func TestSearchRejectsUnencodableQuery(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	n.neighbors.Add(local(6001))

	first, err := n.Search("Glee")
	require.NoError(t, err)

	_, err = n.Search(`say "hi"`)
	assert.ErrorIs(t, err, protocol.ErrInvalidField)
	assert.Len(t, ft.sentFrames(), 1, "nothing is sent for a rejected query")

	n.searchMu.Lock()
	last := n.lastSearch
	n.searchMu.Unlock()
	assert.Equal(t, first.ID, last.ID, "a rejected query does not replace the last search")
}

func TestUnknownCommandRepliesError(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)

	n.HandleMessage(context.Background(), local(6001), protocol.Message{Command: "PING", Fields: []string{"127.0.0.1", "6005"}})
	n.HandleMessage(context.Background(), local(6001), protocol.Message{Command: "PING"})

	sent := ft.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, local(6005), sent[0].to)
	assert.Equal(t, protocol.CmdError, sent[0].msg.Command)
}

func TestRegistrationFramesAreDropped(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	from := local(6001)

	n.HandleMessage(context.Background(), from, protocol.NewRegister(peer.New("127.0.0.1", 6001, "x")))
	n.HandleMessage(context.Background(), from, protocol.NewUnregister(peer.New("127.0.0.1", 6001, "x")))

	assert.Empty(t, ft.sentFrames())
	assert.Empty(t, n.Neighbors())
}

func TestStatsReset(t *testing.T) {
	n := setupNode(t, &fakeTransport{}, 2, "Glee")
	n.HandleMessage(context.Background(), local(6001), protocol.NewSearch(protocol.SearchRequest{Origin: local(7000), Query: "glee", Hops: 2}))
	require.Equal(t, int64(1), n.Stats().Answered)

	n.ResetStats()
	assert.Equal(t, StatsSnapshot{}, n.Stats())
}

// scripted answers REG with the next entry of regs and every JOIN, LEAVE
// and UNREG with the given codes.
func scripted(regs [][]string, joinCode, leaveCode, unregCode protocol.ReplyCode) func(context.Context, peer.Identity, protocol.Message) (protocol.Message, error) {
	next := 0
	return func(ctx context.Context, dst peer.Identity, msg protocol.Message) (protocol.Message, error) {
		switch msg.Command {
		case protocol.CmdRegister:
			fields := regs[next]
			if next < len(regs)-1 {
				next++
			}
			return protocol.Message{Command: protocol.CmdRegOK, Fields: fields}, nil
		case protocol.CmdJoin:
			return protocol.NewCodeReply(protocol.CmdJoinOK, joinCode), nil
		case protocol.CmdLeave:
			return protocol.NewCodeReply(protocol.CmdLeaveOK, leaveCode), nil
		case protocol.CmdUnregister:
			return protocol.NewCodeReply(protocol.CmdUnregOK, unregCode), nil
		}
		return protocol.Message{}, context.Canceled
	}
}

func commands(frames []frame) []protocol.Command {
	out := make([]protocol.Command, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.msg.Command)
	}
	return out
}

func TestConnectJoinsOfferedPeers(t *testing.T) {
	ft := &fakeTransport{respond: scripted(
		[][]string{{"2", "127.0.0.1", "6001", "127.0.0.1", "6002"}},
		protocol.CodeOK, protocol.CodeOK, protocol.CodeOK,
	)}
	n := setupNode(t, ft, 2)

	require.NoError(t, n.Connect(context.Background()))

	assert.Equal(t, []peer.Identity{local(6001), local(6002)}, n.Neighbors())
	assert.True(t, ft.isListening())
	assert.True(t, n.Connected())

	calls := ft.callFrames()
	assert.Equal(t, []protocol.Command{protocol.CmdRegister, protocol.CmdJoin, protocol.CmdJoin}, commands(calls))
	assert.Equal(t, trackerID, calls[0].to)
	assert.Equal(t, []string{"127.0.0.1", "5000", "self"}, calls[0].msg.Fields)
}

func TestConnectReRegistersWhenAllJoinsFail(t *testing.T) {
	ft := &fakeTransport{respond: scripted(
		[][]string{{"1", "127.0.0.1", "6001"}, {"0"}},
		protocol.CodeFailed, protocol.CodeOK, protocol.CodeOK,
	)}
	n := setupNode(t, ft, 2)

	require.NoError(t, n.Connect(context.Background()))

	assert.Equal(t,
		[]protocol.Command{protocol.CmdRegister, protocol.CmdJoin, protocol.CmdUnregister, protocol.CmdRegister},
		commands(ft.callFrames()))
	assert.Empty(t, n.Neighbors())
	assert.True(t, ft.isListening())
}

func TestConnectWithRegistrationErrorListensAlone(t *testing.T) {
	ft := &fakeTransport{respond: scripted([][]string{{"9998"}}, protocol.CodeOK, protocol.CodeOK, protocol.CodeOK)}
	n := setupNode(t, ft, 2)

	require.NoError(t, n.Connect(context.Background()))
	assert.Equal(t, []protocol.Command{protocol.CmdRegister}, commands(ft.callFrames()))
	assert.True(t, ft.isListening())
}

func TestConnectHonorsContext(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := n.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ft.isListening())
}

func TestDisconnectLeavesAndUnregisters(t *testing.T) {
	ft := &fakeTransport{respond: scripted(
		[][]string{{"2", "127.0.0.1", "6001", "127.0.0.1", "6002"}},
		protocol.CodeOK, protocol.CodeOK, protocol.CodeOK,
	)}
	n := setupNode(t, ft, 2)
	require.NoError(t, n.Connect(context.Background()))

	require.NoError(t, n.Disconnect(context.Background()))
	require.NoError(t, n.Disconnect(context.Background()), "second disconnect is a no-op")

	calls := ft.callFrames()
	assert.Equal(t, []protocol.Command{
		protocol.CmdRegister, protocol.CmdJoin, protocol.CmdJoin,
		protocol.CmdLeave, protocol.CmdLeave, protocol.CmdUnregister,
	}, commands(calls))
	assert.False(t, ft.isListening())
	assert.False(t, n.Connected())
	assert.Empty(t, n.Neighbors())

	assert.ErrorIs(t, n.Connect(context.Background()), ErrClosed)
}

func TestDisconnectDoesNotHangOnSilentPeers(t *testing.T) {
	ft := &fakeTransport{}
	n := setupNode(t, ft, 2)
	n.neighbors.Add(local(6001))
	n.neighbors.Add(local(6002))

	done := make(chan struct{})
	go func() {
		_ = n.Disconnect(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect blocked on unreachable peers")
	}
	assert.Len(t, ft.callFrames(), 3)
}
