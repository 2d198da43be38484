package protocol

const (
	// LengthWidth is the number of decimal digits in the frame prefix.
	LengthWidth = 4
	// HeaderSize covers the length prefix and the space after it.
	HeaderSize = LengthWidth + 1

	MaxFrameSize = 9999

	// RegisterErrorThreshold separates neighbor counts from error codes in
	// a REGOK reply.
	RegisterErrorThreshold = 5
)

type Command string

const (
	CmdError      Command = "ERROR"
	CmdJoin       Command = "JOIN"
	CmdJoinOK     Command = "JOINOK"
	CmdLeave      Command = "LEAVE"
	CmdLeaveOK    Command = "LEAVEOK"
	CmdRegister   Command = "REG"
	CmdRegOK      Command = "REGOK"
	CmdSearch     Command = "SER"
	CmdSearchOK   Command = "SEROK"
	CmdUnregOK    Command = "UNROK"
	CmdUnregister Command = "UNREG"
)

func (c Command) String() string {
	return string(c)
}

// Known reports whether the command is part of the protocol.
func (c Command) Known() bool {
	switch c {
	case CmdError, CmdJoin, CmdJoinOK, CmdLeave, CmdLeaveOK,
		CmdRegister, CmdRegOK, CmdSearch, CmdSearchOK, CmdUnregOK, CmdUnregister:
		return true
	default:
		return false
	}
}

// Reply is the command a peer answers a request with.
func (c Command) Reply() (Command, bool) {
	switch c {
	case CmdRegister:
		return CmdRegOK, true
	case CmdUnregister:
		return CmdUnregOK, true
	case CmdJoin:
		return CmdJoinOK, true
	case CmdLeave:
		return CmdLeaveOK, true
	default:
		return "", false
	}
}

type ReplyCode int

const (
	CodeOK                ReplyCode = 0
	CodeFailed            ReplyCode = 9999
	CodeAlreadyRegistered ReplyCode = 9998
	CodeRegisteredToOther ReplyCode = 9997
	CodeRegistryFull      ReplyCode = 9996
)

func (c ReplyCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeFailed:
		return "FAILED"
	case CodeAlreadyRegistered:
		return "ALREADY_REGISTERED"
	case CodeRegisteredToOther:
		return "REGISTERED_TO_OTHER_USER"
	case CodeRegistryFull:
		return "REGISTRY_FULL"
	default:
		return "UNKNOWN"
	}
}
