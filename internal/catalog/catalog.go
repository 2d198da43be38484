// Package catalog holds the file names a node shares and answers whether a
// query matches any of them.
package catalog

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"sync"
)

const (
	minSample = 3
	maxSample = 5
)

type Catalog struct {
	mu    sync.RWMutex
	files []string
}

func New(files ...string) *Catalog {
	c := &Catalog{}
	c.Replace(files)
	return c
}

// LoadFile reads one name per line. With sample set it keeps a random
// subset of three to five names, the way each node of a test network ends
// up sharing a different slice of the same list.
func LoadFile(path string, sample bool, randFn func(n int) int) (*Catalog, error) {
	files, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	if sample {
		files = Sample(files, randFn)
	}
	return New(files...), nil
}

// ReadLines returns the non-blank lines of path, trimmed.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// Sample shuffles a copy of files and keeps between three and five of them.
func Sample(files []string, randFn func(n int) int) []string {
	if randFn == nil {
		randFn = rand.Intn
	}

	pool := make([]string, len(files))
	copy(pool, files)
	for i := len(pool) - 1; i > 0; i-- {
		j := randFn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}

	keep := minSample + randFn(maxSample-minSample+1)
	if keep > len(pool) {
		keep = len(pool)
	}
	return pool[:keep]
}

func (c *Catalog) Replace(files []string) {
	cp := make([]string, len(files))
	copy(cp, files)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = cp
}

func (c *Catalog) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	files := make([]string, len(c.files))
	copy(files, c.files)
	return files
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// Match returns the names that contain query as a whole word, ignoring
// case. An empty query matches nothing.
func (c *Catalog) Match(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(query) + `\b`)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []string
	for _, f := range c.files {
		if re.MatchString(f) {
			matches = append(matches, f)
		}
	}
	return matches
}
