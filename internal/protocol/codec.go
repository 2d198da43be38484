package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrLengthMismatch = errors.New("frame length mismatch")
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrInvalidField   = errors.New("field contains a quote character")
	ErrUnroutable     = errors.New("no reply address in frame")

	ErrFileCountMismatch = errors.New("file count does not match names")
)

// Codec turns messages into length-prefixed text frames and back.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// EncodeToBytes renders "LLLL CMD f1 f2 ..." where LLLL is the full frame
// length as four zero-padded digits.
func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	payload, err := msg.payload()
	if err != nil {
		return nil, err
	}

	total := len(payload) + HeaderSize
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	return []byte(fmt.Sprintf("%0*d %s", LengthWidth, total, payload)), nil
}

// DecodeFromBytes parses one frame. Unknown commands decode normally so the
// caller can decide how to answer them.
func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	if len(data) <= HeaderSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	if data[LengthWidth] != ' ' {
		return Message{}, fmt.Errorf("%w: missing separator after length", ErrMalformedFrame)
	}

	prefix := string(data[:LengthWidth])
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return Message{}, fmt.Errorf("%w: bad length prefix %q", ErrMalformedFrame, prefix)
		}
	}
	declared, _ := strconv.Atoi(prefix)
	if declared != len(data) {
		return Message{}, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, declared, len(data))
	}

	tokens, err := tokenize(string(data[HeaderSize:]))
	if err != nil {
		return Message{}, err
	}
	if len(tokens) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}

	msg := Message{Command: Command(tokens[0])}
	if len(tokens) > 1 {
		msg.Fields = tokens[1:]
	}
	return msg, nil
}

// tokenize splits on single spaces and joins quoted runs back into one
// value without the surrounding quotes. Runs of spaces separate fields
// outside quotes and are kept verbatim inside them.
func tokenize(payload string) ([]string, error) {
	var tokens []string
	var quoted []string
	inQuote := false

	for _, tok := range strings.Split(payload, " ") {
		// inside quotes an empty token is a doubled space in the value
		if tok == "" && !inQuote {
			continue
		}

		if !inQuote {
			if !strings.HasPrefix(tok, `"`) {
				tokens = append(tokens, tok)
				continue
			}
			if len(tok) > 1 && strings.HasSuffix(tok, `"`) {
				tokens = append(tokens, tok[1:len(tok)-1])
				continue
			}
			inQuote = true
			quoted = []string{tok[1:]}
			continue
		}

		if strings.HasSuffix(tok, `"`) {
			quoted = append(quoted, tok[:len(tok)-1])
			tokens = append(tokens, strings.Join(quoted, " "))
			inQuote = false
			quoted = nil
			continue
		}
		quoted = append(quoted, tok)
	}

	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quoted field", ErrMalformedFrame)
	}
	return tokens, nil
}

func quote(field string) string {
	return `"` + field + `"`
}
