package emu

import (
	"sync"

	"github.com/sophgo/dwmac/internal/dwmac"
)

// Link is a scripted link provider. Each Poll consumes the next scripted
// status; once the script runs out the last status repeats.
type Link struct {
	mu     sync.Mutex
	script []dwmac.LinkStatus
	cur    dwmac.LinkStatus
	err    error
	polls  int
}

// Up is a 1000Mb/s full-duplex link.
var Up = dwmac.LinkStatus{Up: true, Speed: 1000, FullDuplex: true}

// NewLink starts with the given status.
func NewLink(initial dwmac.LinkStatus) *Link {
	return &Link{cur: initial}
}

// Poll implements dwmac.LinkProvider.
func (l *Link) Poll() (dwmac.LinkStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.polls++
	if l.err != nil {
		return dwmac.LinkStatus{}, l.err
	}
	if len(l.script) > 0 {
		l.cur = l.script[0]
		l.script = l.script[1:]
	}
	return l.cur, nil
}

// Set replaces the current status and drops any remaining script.
func (l *Link) Set(s dwmac.LinkStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = s
	l.script = nil
}

// Script queues statuses returned by the following polls.
func (l *Link) Script(seq ...dwmac.LinkStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script = append(l.script, seq...)
}

// Fail makes Poll return err until it is called again with nil.
func (l *Link) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Polls returns the number of Poll calls.
func (l *Link) Polls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polls
}

var _ dwmac.LinkProvider = (*Link)(nil)
