package transport

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/rudransh-shrivastava/peer-seek/internal/protocol"
)

type pendingCall struct {
	from   netip.AddrPort
	expect []protocol.Command
	reply  chan protocol.Message
}

// pendingTable holds the calls waiting for a reply. Calls with the same
// destination and command set are served oldest first.
type pendingTable struct {
	mu    sync.Mutex
	calls []*pendingCall
}

func (p *pendingTable) add(call *pendingCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *pendingTable) remove(call *pendingCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = slices.DeleteFunc(p.calls, func(c *pendingCall) bool { return c == call })
}

// match hands msg to the first call that expects it from src. It reports
// false when nobody is waiting, in which case the frame is unsolicited.
func (p *pendingTable) match(src netip.AddrPort, msg protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, call := range p.calls {
		if call.from != src || !slices.Contains(call.expect, msg.Command) {
			continue
		}
		p.calls = slices.Delete(p.calls, i, i+1)
		call.reply <- msg
		return true
	}
	return false
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
