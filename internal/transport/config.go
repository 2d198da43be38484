package transport

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultCallTimeout = 5000 * time.Millisecond

	// maxDatagramSize leaves room to read, and then reject, frames that
	// exceed the four digit length prefix.
	maxDatagramSize = 64 * 1024
)

type Config struct {
	// Addr is the local host:port to bind, e.g. "127.0.0.1:5001".
	Addr string
	// CallTimeout is how long a call waits before resending its request.
	CallTimeout time.Duration
	Logger      *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}
