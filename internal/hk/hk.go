// Package hk provides a mechanism for registering cleanup/periodic
// callbacks invoked at specified intervals. The broker uses it to drive
// idle-session teardown and periodic log flushing.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/biomine3000/routingbroker/internal/cos"
	"github.com/biomine3000/routingbroker/internal/nlog"
)

type (
	// CleanupFunc runs on every tick; its return value is the next
	// interval to wait before the next tick (0 or negative unregisters).
	CleanupFunc func() time.Duration

	request struct {
		f        CleanupFunc
		name     string
		interval time.Duration
		register bool
	}

	timedAction struct {
		name string
		f    CleanupFunc
		due  int64 // UnixNano
	}

	timedActionsHeap []timedAction

	housekeeper struct {
		mu        sync.Mutex
		heap      timedActionsHeap
		reqCh     chan request
		stopCh    *cos.StopCh
		startedCh chan struct{}
		running   bool
	}
)

// DefaultHK is the broker-wide housekeeper singleton.
var DefaultHK = newHousekeeper()

func newHousekeeper() *housekeeper {
	return &housekeeper{
		stopCh:    cos.NewStopCh(),
		reqCh:     make(chan request, 64),
		startedCh: make(chan struct{}),
	}
}

// TestInit resets DefaultHK so a test suite can re-initialize state per
// run.
func TestInit() { DefaultHK = newHousekeeper() }

// WaitStarted blocks until Run has entered its serving loop.
func WaitStarted() { <-DefaultHK.startedCh }

// Reg registers f to run once interval has elapsed; after that, f's return
// value sets the wait before its next run. name identifies the callback for
// Unreg (registering an existing name replaces it) and in panic log lines.
func Reg(name string, f CleanupFunc, interval time.Duration) {
	DefaultHK.reqCh <- request{name: name, f: f, interval: interval, register: true}
}

// Unreg cancels a previously registered callback by name.
func Unreg(name string) {
	DefaultHK.reqCh <- request{name: name, register: false}
}

// Run is the housekeeper's single-goroutine loop: it pops the
// earliest-due action off a min-heap, sleeps until it's due (or until a
// new registration arrives), invokes it, and reschedules based on the
// returned interval.
func (hk *housekeeper) Run() {
	heap.Init(&hk.heap)
	hk.running = true
	close(hk.startedCh)

	for {
		var timer *time.Timer
		if len(hk.heap) > 0 {
			d := time.Until(time.Unix(0, hk.heap[0].due))
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		}

		select {
		case req := <-hk.reqCh:
			hk.apply(req)
			if timer != nil {
				timer.Stop()
			}
		case <-tick(timer):
			hk.fire()
		case <-hk.stopCh.Listen():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func tick(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (hk *housekeeper) apply(req request) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if !req.register {
		hk.remove(req.name)
		return
	}
	hk.remove(req.name)
	heap.Push(&hk.heap, timedAction{name: req.name, f: req.f, due: time.Now().Add(req.interval).UnixNano()})
}

func (hk *housekeeper) remove(name string) {
	for i, a := range hk.heap {
		if a.name == name {
			heap.Remove(&hk.heap, i)
			return
		}
	}
}

func (hk *housekeeper) fire() {
	hk.mu.Lock()
	if len(hk.heap) == 0 {
		hk.mu.Unlock()
		return
	}
	a := heap.Pop(&hk.heap).(timedAction)
	hk.mu.Unlock()

	next := hk.runOne(a)
	if next > 0 {
		hk.mu.Lock()
		heap.Push(&hk.heap, timedAction{name: a.name, f: a.f, due: time.Now().Add(next).UnixNano()})
		hk.mu.Unlock()
	}
}

func (hk *housekeeper) runOne(a timedAction) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: callback %q panicked: %v", a.name, r)
			next = 0
		}
	}()
	return a.f()
}

// Stop terminates the housekeeper's Run loop.
func (hk *housekeeper) Stop() { hk.stopCh.Close() }

func (h timedActionsHeap) Len() int           { return len(h) }
func (h timedActionsHeap) Less(i, j int) bool { return h[i].due < h[j].due }
func (h timedActionsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timedActionsHeap) Push(x any)        { *h = append(*h, x.(timedAction)) }
func (h *timedActionsHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
