// Package shell is the line-oriented operator console of a node.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/node"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const (
	CmdNeighbors  = "#PN"
	CmdFiles      = "#PF"
	CmdBenchmark  = "#BENCH"
	CmdStats      = "#STAT"
	CmdResetStats = "#RESETSTAT"
	CmdExit       = "#X"

	banner = "Enter #PN to print neighbour table and #PF to print file list."
	rule   = "=============================================================="
)

// Engine is the node as seen from the console.
type Engine interface {
	Neighbors() []peer.Identity
	Files() []string
	Stats() node.StatsSnapshot
	ResetStats()
	Search(query string) (node.Query, error)
	Results() <-chan node.SearchResult
}

type Config struct {
	In  io.Reader
	Out io.Writer
	// Prompt prints "> " before each line; set it when In is a terminal.
	Prompt bool

	QueryFile  string
	BenchDelay time.Duration

	Logger *logrus.Logger
}

type Shell struct {
	engine Engine
	config Config
	logger *logrus.Logger

	outMu sync.Mutex
}

func New(engine Engine, cfg Config) *Shell {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Shell{engine: engine, config: cfg, logger: logger}
}

// Interactive reports whether f is a terminal.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Run prints search results as they arrive and executes input lines until
// #X, end of input, or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.printResults(ctx)
	}()

	s.println(rule)
	s.println(banner)
	s.println(rule)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.config.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		s.prompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if s.Execute(ctx, line) {
				return nil
			}
		}
	}
}

// Execute runs one console line and reports whether the console should
// exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "#") {
		s.search(line)
		return false
	}

	switch line {
	case CmdExit:
		return true
	case CmdNeighbors:
		neighbors := s.engine.Neighbors()
		for _, n := range neighbors {
			s.printf("Neighbor Node %s : %d\n", n.Host, n.Port)
		}
		s.printf("Total neighbors = %d\n", len(neighbors))
	case CmdFiles:
		files := s.engine.Files()
		for _, f := range files {
			s.println(f)
		}
		s.printf("Total files = %d\n", len(files))
	case CmdBenchmark:
		if err := s.Benchmark(ctx); err != nil {
			s.logger.Errorf("benchmark: %v", err)
		}
	case CmdStats:
		stats := s.engine.Stats()
		s.printf("Received Queries = %d\n", stats.Received)
		s.printf("Forwarded Queries = %d\n", stats.Forwarded)
		s.printf("Answered Queries = %d\n", stats.Answered)
	case CmdResetStats:
		s.engine.ResetStats()
		s.println("Query statistics reset")
	default:
		s.printf("Unknown command %s\n", line)
	}
	return false
}

func (s *Shell) search(query string) {
	if _, err := s.engine.Search(query); err != nil {
		s.printf("Search failed: %v\n", err)
	}
}

func (s *Shell) printResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.engine.Results():
			s.PrintResult(res)
		}
	}
}

// PrintResult writes the matching names followed by the hop count and
// latency line.
func (s *Shell) PrintResult(res node.SearchResult) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	for _, f := range res.Files {
		fmt.Fprintln(s.config.Out, f)
	}
	fmt.Fprintf(s.config.Out, "Hop Count = %d. Latency = %d ms\n", res.HopCount, res.Latency.Milliseconds())
}

func (s *Shell) prompt() {
	if s.config.Prompt {
		s.printf("> ")
	}
}

func (s *Shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.config.Out, format, args...)
}

func (s *Shell) println(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.config.Out, line)
}
