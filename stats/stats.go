package stats

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

type Type int

const (
	Traversed Type = iota
	Matched
	Formatted
	Changed
)

// Stats is a collection of atomic counters describing a run.
type Stats struct {
	start    time.Time
	counters map[Type]*atomic.Int64
}

func (s *Stats) Add(t Type, delta int64) int64 {
	return s.counters[t].Add(delta)
}

func (s *Stats) Value(t Type) int64 {
	return s.counters[t].Load()
}

func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.start)
}

func (s *Stats) Print(w io.Writer) {
	fmt.Fprintf(
		w,
		"traversed %d files\nmatched %d files for formatting\nformatted %d files (%d changed) in %v\n",
		s.Value(Traversed),
		s.Value(Matched),
		s.Value(Formatted),
		s.Value(Changed),
		s.Elapsed().Round(time.Millisecond),
	)
}

func New() Stats {
	counters := make(map[Type]*atomic.Int64)
	counters[Traversed] = &atomic.Int64{}
	counters[Matched] = &atomic.Int64{}
	counters[Formatted] = &atomic.Int64{}
	counters[Changed] = &atomic.Int64{}

	return Stats{
		start:    time.Now(),
		counters: counters,
	}
}
