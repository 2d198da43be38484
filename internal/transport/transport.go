// Package transport carries protocol frames over a single UDP socket.
//
// One goroutine reads the socket. Frames that answer an outstanding Call
// are handed to that call; every other frame goes to the installed Handler
// on its own goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("transport closed")

type Handler interface {
	HandleMessage(ctx context.Context, from peer.Identity, msg protocol.Message)
}

type HandlerFunc func(ctx context.Context, from peer.Identity, msg protocol.Message)

func (f HandlerFunc) HandleMessage(ctx context.Context, from peer.Identity, msg protocol.Message) {
	f(ctx, from, msg)
}

type Transport struct {
	conn        *net.UDPConn
	codec       *protocol.Codec
	logger      *logrus.Logger
	callTimeout time.Duration

	pending *pendingTable

	handlerMu sync.RWMutex
	handler   Handler

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	loopDone  chan struct{}
	handlers  sync.WaitGroup
}

// New binds the socket and starts the receive loop. Frames that are not
// replies are dropped until Listen installs a handler.
func New(cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()

	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:        conn,
		codec:       protocol.NewCodec(),
		logger:      cfg.Logger,
		callTimeout: cfg.CallTimeout,
		pending:     &pendingTable{},
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *Transport) Addr() string {
	return t.LocalAddr().String()
}

// Identity is the bound address as a peer identity without a name.
func (t *Transport) Identity() peer.Identity {
	return peer.FromUDPAddr(t.LocalAddr())
}

func (t *Transport) CallTimeout() time.Duration {
	return t.callTimeout
}

// Listen starts dispatching unsolicited frames to h.
func (t *Transport) Listen(h Handler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// Unlisten stops dispatching unsolicited frames. Replies to calls are still
// delivered.
func (t *Transport) Unlisten() {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = nil
}

func (t *Transport) Closed() bool {
	return t.ctx.Err() != nil
}

// Close stops the receive loop and fails every in-flight call with
// ErrClosed. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.conn.Close()
		<-t.loopDone
		t.handlers.Wait()
	})
	return t.closeErr
}

// Send writes one frame to dst without waiting for anything back.
func (t *Transport) Send(dst peer.Identity, msg protocol.Message) error {
	if t.Closed() {
		return ErrClosed
	}
	addr, err := dst.UDPAddr()
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dst, err)
	}
	data, err := t.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Command, dst, err)
	}
	t.logger.WithFields(logrus.Fields{"peer": dst.String(), "cmd": msg.Command}).Debugf("sent %s", msg)
	return nil
}

// Call sends msg to dst and blocks until dst answers with one of expect.
// When expect is empty the request's natural reply command is used. The
// request is resent every CallTimeout with no upper bound; only ctx or Close
// end the wait early.
func (t *Transport) Call(ctx context.Context, dst peer.Identity, msg protocol.Message, expect ...protocol.Command) (protocol.Message, error) {
	if t.Closed() {
		return protocol.Message{}, ErrClosed
	}
	if len(expect) == 0 {
		reply, ok := msg.Command.Reply()
		if !ok {
			return protocol.Message{}, fmt.Errorf("no reply command known for %s", msg.Command)
		}
		expect = []protocol.Command{reply}
	}

	addr, err := dst.UDPAddr()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("resolve %s: %w", dst, err)
	}
	data, err := t.codec.EncodeToBytes(msg)
	if err != nil {
		return protocol.Message{}, err
	}

	call := &pendingCall{
		from:   peer.Endpoint(addr),
		expect: expect,
		reply:  make(chan protocol.Message, 1),
	}
	t.pending.add(call)
	defer t.pending.remove(call)

	log := t.logger.WithFields(logrus.Fields{"peer": dst.String(), "cmd": msg.Command})

	timer := time.NewTimer(t.callTimeout)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if _, err := t.conn.WriteToUDP(data, addr); err != nil {
			log.Warnf("send failed on attempt %d: %v", attempt, err)
		} else {
			log.Debugf("sent %s (attempt %d)", msg, attempt)
		}

		select {
		case reply := <-call.reply:
			log.Debugf("received %s", reply)
			return reply, nil
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		case <-t.ctx.Done():
			return protocol.Message{}, ErrClosed
		case <-timer.C:
			log.Warnf("no reply after %s, resending", t.callTimeout)
			timer.Reset(t.callTimeout)
		}
	}
}

func (t *Transport) readLoop() {
	defer close(t.loopDone)

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.Closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warnf("read failed: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := t.codec.DecodeFromBytes(data)
		if err != nil {
			t.logger.WithField("peer", src.String()).Warnf("dropping frame %q: %v", data, err)
			continue
		}

		if t.pending.match(peer.Endpoint(src), msg) {
			continue
		}
		t.dispatch(src, msg)
	}
}

func (t *Transport) dispatch(src *net.UDPAddr, msg protocol.Message) {
	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()

	if h == nil {
		t.logger.WithFields(logrus.Fields{"peer": src.String(), "cmd": msg.Command}).Debug("not listening, dropping frame")
		return
	}

	t.handlers.Add(1)
	go func() {
		defer t.handlers.Done()
		h.HandleMessage(t.ctx, peer.FromUDPAddr(src), msg)
	}()
}
