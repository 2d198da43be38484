package shell

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-seek/internal/catalog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

var ErrNoQueryFile = errors.New("no benchmark query file configured")

// Benchmark searches every line of the query file, one query per
// BenchDelay. A missing file skips the run.
func (s *Shell) Benchmark(ctx context.Context) error {
	if s.config.QueryFile == "" {
		return ErrNoQueryFile
	}
	queries, err := catalog.ReadLines(s.config.QueryFile)
	if err != nil {
		return fmt.Errorf("reading queries: %w", err)
	}

	s.println(rule)
	s.println("Benchmark started.")

	limit := rate.Inf
	if s.config.BenchDelay > 0 {
		limit = rate.Every(s.config.BenchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	bar := progressbar.NewOptions(len(queries),
		progressbar.OptionSetWriter(s.config.Out),
		progressbar.OptionSetDescription("benchmark"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
	)

	sent := 0
	for _, q := range queries {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.engine.Search(q); err != nil {
			s.logger.WithField("query", q).Warnf("benchmark search: %v", err)
		} else {
			sent++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	s.println("")
	s.printf("Benchmark finished, %d of %d queries sent.\n", sent, len(queries))
	s.println(rule)
	return nil
}
