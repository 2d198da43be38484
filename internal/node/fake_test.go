package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
	"github.com/rudransh-shrivastava/peer-seek/internal/transport"
)

type frame struct {
	to  peer.Identity
	msg protocol.Message
}

// fakeTransport records what the node sends and answers calls through
// respond.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []frame
	calls     []frame
	handler   transport.Handler
	listening bool
	closed    bool
	respond   func(ctx context.Context, dst peer.Identity, msg protocol.Message) (protocol.Message, error)
}

func (f *fakeTransport) Call(ctx context.Context, dst peer.Identity, msg protocol.Message, expect ...protocol.Command) (protocol.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, frame{to: dst, msg: msg})
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		<-ctx.Done()
		return protocol.Message{}, ctx.Err()
	}
	return respond(ctx, dst, msg)
}

func (f *fakeTransport) Send(dst peer.Identity, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, frame{to: dst, msg: msg})
	return nil
}

func (f *fakeTransport) Listen(h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.listening = true
}

func (f *fakeTransport) Unlisten() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = false
}

func (f *fakeTransport) CallTimeout() time.Duration {
	return 50 * time.Millisecond
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentFrames() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) callFrames() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) isListening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}
