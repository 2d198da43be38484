package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
)

// Message is one decoded frame: a command token and its fields, with the
// quotes of quoted fields already removed.
type Message struct {
	Command Command
	Fields  []string
}

func (m Message) Type() Command {
	return m.Command
}

// String renders the payload for logs.
func (m Message) String() string {
	p, err := m.payload()
	if err != nil {
		return string(m.Command) + " " + strings.Join(m.Fields, " ")
	}
	return p
}

// Validate reports whether m can be put on the wire.
func (m Message) Validate() error {
	_, err := m.payload()
	return err
}

func (m Message) payload() (string, error) {
	if m.Command == "" || strings.ContainsAny(string(m.Command), ` "`) {
		return "", fmt.Errorf("%w: bad command %q", ErrMalformedFrame, m.Command)
	}

	var b strings.Builder
	b.WriteString(string(m.Command))
	for i, f := range m.Fields {
		if strings.Contains(f, `"`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
		b.WriteByte(' ')
		if m.quoted(i) || f == "" || strings.Contains(f, " ") {
			b.WriteString(quote(f))
		} else {
			b.WriteString(f)
		}
	}
	return b.String(), nil
}

// quoted reports the positions that are always wrapped in quotes on the
// wire: the SER query and every SEROK file name.
func (m Message) quoted(i int) bool {
	switch m.Command {
	case CmdSearch:
		return i == 2
	case CmdSearchOK:
		return i >= 4
	default:
		return false
	}
}

func NewRegister(self peer.Identity) Message {
	return Message{Command: CmdRegister, Fields: []string{self.Host, self.PortString(), self.Name}}
}

func NewUnregister(self peer.Identity) Message {
	return Message{Command: CmdUnregister, Fields: []string{self.Host, self.PortString(), self.Name}}
}

func NewJoin(self peer.Identity) Message {
	return Message{Command: CmdJoin, Fields: []string{self.Host, self.PortString()}}
}

func NewLeave(self peer.Identity) Message {
	return Message{Command: CmdLeave, Fields: []string{self.Host, self.PortString()}}
}

// NewCodeReply builds replies of the form "JOINOK 0".
func NewCodeReply(cmd Command, code ReplyCode) Message {
	return Message{Command: cmd, Fields: []string{strconv.Itoa(int(code))}}
}

func NewRegisterOK(peers []peer.Identity) Message {
	fields := []string{strconv.Itoa(len(peers))}
	for _, p := range peers {
		fields = append(fields, p.Host, p.PortString())
	}
	return Message{Command: CmdRegOK, Fields: fields}
}

func NewError() Message {
	return Message{Command: CmdError}
}

type SearchRequest struct {
	Origin peer.Identity
	Query  string
	Hops   int
}

func NewSearch(req SearchRequest) Message {
	return Message{
		Command: CmdSearch,
		Fields:  []string{req.Origin.Host, req.Origin.PortString(), req.Query, strconv.Itoa(req.Hops)},
	}
}

type SearchReply struct {
	Owner peer.Identity
	Hops  int
	Files []string
}

func NewSearchOK(reply SearchReply) Message {
	fields := []string{
		strconv.Itoa(len(reply.Files)),
		reply.Owner.Host,
		reply.Owner.PortString(),
		strconv.Itoa(reply.Hops),
	}
	fields = append(fields, reply.Files...)
	return Message{Command: CmdSearchOK, Fields: fields}
}

func ParseSearch(m Message) (SearchRequest, error) {
	if m.Command != CmdSearch || len(m.Fields) != 4 {
		return SearchRequest{}, fmt.Errorf("%w: %s", ErrMalformedFrame, m)
	}
	origin, err := peer.Parse(m.Fields[0], m.Fields[1])
	if err != nil {
		return SearchRequest{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	hops, err := strconv.Atoi(m.Fields[3])
	if err != nil || hops < 0 {
		return SearchRequest{}, fmt.Errorf("%w: bad hop count %q", ErrMalformedFrame, m.Fields[3])
	}
	return SearchRequest{Origin: origin, Query: m.Fields[2], Hops: hops}, nil
}

// ParseSearchOK reads a SEROK. When the announced count disagrees with the
// names carried, the reply is still returned with every name present,
// together with an error wrapping ErrFileCountMismatch.
func ParseSearchOK(m Message) (SearchReply, error) {
	if m.Command != CmdSearchOK || len(m.Fields) < 4 {
		return SearchReply{}, fmt.Errorf("%w: %s", ErrMalformedFrame, m)
	}
	count, err := strconv.Atoi(m.Fields[0])
	if err != nil {
		return SearchReply{}, fmt.Errorf("%w: bad file count %q", ErrMalformedFrame, m.Fields[0])
	}
	owner, err := peer.Parse(m.Fields[1], m.Fields[2])
	if err != nil {
		return SearchReply{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	hops, err := strconv.Atoi(m.Fields[3])
	if err != nil {
		return SearchReply{}, fmt.Errorf("%w: bad hop count %q", ErrMalformedFrame, m.Fields[3])
	}

	files := make([]string, len(m.Fields)-4)
	copy(files, m.Fields[4:])
	reply := SearchReply{Owner: owner, Hops: hops, Files: files}
	if count != len(files) {
		return reply, fmt.Errorf("%w: announced %d, carried %d", ErrFileCountMismatch, count, len(files))
	}
	return reply, nil
}

// ParseCode reads the numeric value of replies such as JOINOK or UNROK.
func ParseCode(m Message) (int, error) {
	if len(m.Fields) < 1 {
		return 0, fmt.Errorf("%w: %s has no value", ErrMalformedFrame, m.Command)
	}
	v, err := strconv.Atoi(m.Fields[0])
	if err != nil {
		return 0, fmt.Errorf("%w: bad value %q", ErrMalformedFrame, m.Fields[0])
	}
	return v, nil
}

// ParseRegisterOK returns the count field and, when the count is below the
// error threshold, the offered peers.
func ParseRegisterOK(m Message) (int, []peer.Identity, error) {
	count, err := ParseCode(m)
	if err != nil {
		return 0, nil, err
	}
	if count >= RegisterErrorThreshold || count <= 0 {
		return count, []peer.Identity{}, nil
	}
	if len(m.Fields) < 1+2*count {
		return 0, nil, fmt.Errorf("%w: REGOK announces %d peers but carries %d fields", ErrMalformedFrame, count, len(m.Fields)-1)
	}

	peers := make([]peer.Identity, 0, count)
	for i := 0; i < count; i++ {
		p, err := peer.Parse(m.Fields[1+2*i], m.Fields[2+2*i])
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		peers = append(peers, p)
	}
	return count, peers, nil
}

// ParsePeer reads the "host port [name]" fields of REG, UNREG, JOIN and
// LEAVE.
func ParsePeer(m Message) (peer.Identity, error) {
	if len(m.Fields) < 2 {
		return peer.Identity{}, fmt.Errorf("%w: %s needs host and port", ErrMalformedFrame, m.Command)
	}
	p, err := peer.Parse(m.Fields[0], m.Fields[1])
	if err != nil {
		return peer.Identity{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(m.Fields) > 2 {
		p.Name = m.Fields[2]
	}
	return p, nil
}

// ReplyRoute is where an ERROR for an unrecognized frame should go: the
// host and port that follow the command token.
func ReplyRoute(m Message) (peer.Identity, error) {
	if len(m.Fields) < 2 {
		return peer.Identity{}, ErrUnroutable
	}
	p, err := peer.Parse(m.Fields[0], m.Fields[1])
	if err != nil {
		return peer.Identity{}, fmt.Errorf("%w: %v", ErrUnroutable, err)
	}
	return p, nil
}
