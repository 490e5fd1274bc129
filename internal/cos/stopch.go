package cos

import "sync"

// StopCh is a broadcast, close-once stop signal: a single owner calls
// Close(), any number of goroutines can Listen() for it.
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh { return &StopCh{ch: make(chan struct{})} }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }
