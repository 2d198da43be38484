package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/node"
	"github.com/rudransh-shrivastava/peer-seek/internal/peer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	neighbors []peer.Identity
	files     []string
	stats     node.StatsSnapshot
	queries   []string
	searchErr error
	results   chan node.SearchResult
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		neighbors: []peer.Identity{peer.New("127.0.0.1", 6001, ""), peer.New("127.0.0.1", 6002, "")},
		files:     []string{"Lord of the Rings", "Glee"},
		stats:     node.StatsSnapshot{Received: 3, Forwarded: 2, Answered: 1},
		results:   make(chan node.SearchResult, 4),
	}
}

func (f *fakeEngine) Neighbors() []peer.Identity { return f.neighbors }
func (f *fakeEngine) Files() []string            { return f.files }

func (f *fakeEngine) Stats() node.StatsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeEngine) ResetStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = node.StatsSnapshot{}
}

func (f *fakeEngine) Search(query string) (node.Query, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return node.Query{}, f.searchErr
	}
	f.queries = append(f.queries, query)
	return node.Query{Text: query}, nil
}

func (f *fakeEngine) Results() <-chan node.SearchResult { return f.results }

func (f *fakeEngine) searched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// syncBuffer lets the result printer and the test read the same output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quiet() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setupShell(engine Engine, in string, cfg Config) (*Shell, *syncBuffer) {
	out := &syncBuffer{}
	cfg.In = strings.NewReader(in)
	cfg.Out = out
	cfg.Logger = quiet()
	return New(engine, cfg), out
}

func TestExecuteCommands(t *testing.T) {
	engine := newFakeEngine()
	sh, out := setupShell(engine, "", Config{})
	ctx := context.Background()

	assert.False(t, sh.Execute(ctx, "#PN"))
	assert.Contains(t, out.String(), "Neighbor Node 127.0.0.1 : 6001\nNeighbor Node 127.0.0.1 : 6002\nTotal neighbors = 2\n")

	assert.False(t, sh.Execute(ctx, "#PF"))
	assert.Contains(t, out.String(), "Lord of the Rings\nGlee\nTotal files = 2\n")

	assert.False(t, sh.Execute(ctx, "#STAT"))
	assert.Contains(t, out.String(), "Received Queries = 3\nForwarded Queries = 2\nAnswered Queries = 1\n")

	assert.False(t, sh.Execute(ctx, "#RESETSTAT"))
	assert.Equal(t, node.StatsSnapshot{}, engine.Stats())

	assert.False(t, sh.Execute(ctx, "#NOPE"))
	assert.Contains(t, out.String(), "Unknown command #NOPE")

	assert.False(t, sh.Execute(ctx, "Harry Potter"))
	assert.Equal(t, []string{"Harry Potter"}, engine.searched())

	assert.False(t, sh.Execute(ctx, "   "))
	assert.True(t, sh.Execute(ctx, "#X"))
}

func TestSearchFailureIsReported(t *testing.T) {
	engine := newFakeEngine()
	engine.searchErr = node.ErrNoNeighbors
	sh, out := setupShell(engine, "", Config{})

	sh.Execute(context.Background(), "Glee")
	assert.Contains(t, out.String(), "Search failed: no neighbors to search")
}

func TestPrintResult(t *testing.T) {
	sh, out := setupShell(newFakeEngine(), "", Config{})

	sh.PrintResult(node.SearchResult{
		Files:    []string{"Harry Potter", "Tintin"},
		HopCount: 2,
		Latency:  42 * time.Millisecond,
	})
	assert.Equal(t, "Harry Potter\nTintin\nHop Count = 2. Latency = 42 ms\n", out.String())
}

func TestRunStopsAtExit(t *testing.T) {
	engine := newFakeEngine()
	sh, out := setupShell(engine, "Glee\n#X\nTintin\n", Config{Prompt: true})

	require.NoError(t, sh.Run(context.Background()))
	assert.Equal(t, []string{"Glee"}, engine.searched())
	assert.Contains(t, out.String(), banner)
	assert.Contains(t, out.String(), "> ")
}

func TestRunStopsAtEOF(t *testing.T) {
	engine := newFakeEngine()
	sh, _ := setupShell(engine, "Glee\nTintin", Config{})

	require.NoError(t, sh.Run(context.Background()))
	assert.Equal(t, []string{"Glee", "Tintin"}, engine.searched())
}

func TestRunPrintsResults(t *testing.T) {
	engine := newFakeEngine()
	r, w := io.Pipe()
	defer w.Close()

	out := &syncBuffer{}
	sh := New(engine, Config{In: r, Out: out, Logger: quiet()})

	done := make(chan error, 1)
	go func() { done <- sh.Run(context.Background()) }()

	engine.results <- node.SearchResult{Files: []string{"Glee"}, HopCount: 1}
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Glee\nHop Count = 1. Latency = 0 ms\n")
	}, time.Second, 10*time.Millisecond)

	_, err := w.Write([]byte("#X\n"))
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shell did not exit")
	}
}

func TestBenchmark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	require.NoError(t, os.WriteFile(path, []byte("Glee\n\nTintin\nHarry Potter\n"), 0o644))

	engine := newFakeEngine()
	sh, out := setupShell(engine, "", Config{QueryFile: path, BenchDelay: 5 * time.Millisecond})

	require.NoError(t, sh.Benchmark(context.Background()))
	assert.Equal(t, []string{"Glee", "Tintin", "Harry Potter"}, engine.searched())
	assert.Contains(t, out.String(), "Benchmark finished, 3 of 3 queries sent.")
}

func TestBenchmarkWithoutQueries(t *testing.T) {
	sh, _ := setupShell(newFakeEngine(), "", Config{})
	assert.ErrorIs(t, sh.Benchmark(context.Background()), ErrNoQueryFile)

	sh, _ = setupShell(newFakeEngine(), "", Config{QueryFile: filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, sh.Benchmark(context.Background()))
}

func TestBenchmarkHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

	engine := newFakeEngine()
	sh, _ := setupShell(engine, "", Config{QueryFile: path, BenchDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Error(t, sh.Benchmark(ctx))
	assert.Equal(t, []string{"a"}, engine.searched())
}
