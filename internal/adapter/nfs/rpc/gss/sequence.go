package gss

import (
	"errors"
	"sync"
)

// ErrSeqExhausted is returned once a context has used every sequence
// number up to MAXSEQ.
var ErrSeqExhausted = errors.New("gss: sequence numbers exhausted")

// SeqCounter hands out the per-context sequence numbers of DATA calls.
// Numbers start at 1 and never exceed MAXSEQ.
//
// Thread Safety: All methods are safe for concurrent use.
type SeqCounter struct {
	mu   sync.Mutex
	last uint32
}

// Next returns the next sequence number.
func (s *SeqCounter) Next() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last >= MAXSEQ {
		return 0, ErrSeqExhausted
	}
	s.last++
	return s.last, nil
}

// Last returns the most recently issued sequence number, 0 if none.
func (s *SeqCounter) Last() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset restarts numbering for a new context.
func (s *SeqCounter) Reset() {
	s.mu.Lock()
	s.last = 0
	s.mu.Unlock()
}
