// Package status turns raw DMA channel status words and descriptor
// write-back words into structured conditions.
//
// The channel status word holds two groups that share no bits: the normal
// group (completions) and the abnormal group (stops, watchdog, bus faults).
// Each set bit is decoded into at most one field or condition, so a single
// hardware event is never reported twice.
package status

import (
	"fmt"
	"strings"

	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/ring"
)

// Direction names the DMA side a fault belongs to.
type Direction uint8

const (
	Tx Direction = 1 << iota
	Rx

	Both = Tx | Rx
)

func (d Direction) String() string {
	switch d {
	case Tx:
		return "tx"
	case Rx:
		return "rx"
	case Both:
		return "tx+rx"
	}
	return "none"
}

// Access is the bus transfer type that faulted.
type Access uint8

const (
	Write Access = iota
	Read
)

func (a Access) String() string {
	if a == Read {
		return "read"
	}
	return "write"
}

// Resource is what the faulting transfer was touching.
type Resource uint8

const (
	Buffer Resource = iota
	Descriptor
)

func (r Resource) String() string {
	if r == Descriptor {
		return "descriptor"
	}
	return "buffer"
}

// Fault is a fatal bus error attributed to one direction.
type Fault struct {
	Dir      Direction
	Access   Access
	Resource Resource
	// Data is set when the error happened during data transfer rather than
	// while the engine was idle.
	Data bool
}

func (f Fault) String() string {
	return fmt.Sprintf("%s fatal bus error on %s %s", f.Dir, f.Resource, f.Access)
}

// Report is a decoded DMA channel status word.
type Report struct {
	Raw uint32

	// Normal group.
	TxComplete          bool
	TxBufferUnavailable bool
	RxComplete          bool
	EarlyTx             bool
	EarlyRx             bool

	// Abnormal group.
	TxStopped           bool
	RxBufferUnavailable bool
	RxStopped           bool
	RxWatchdog          bool
	ContextError        bool
	Faults              []Fault
}

// Decode splits a status word into its groups.
func Decode(word uint32) Report {
	r := Report{Raw: word}

	r.TxComplete = word&regs.DMAChTI != 0
	r.TxBufferUnavailable = word&regs.DMAChTBU != 0
	r.RxComplete = word&regs.DMAChRI != 0
	r.EarlyTx = word&regs.DMAChETI != 0
	r.EarlyRx = word&regs.DMAChERI != 0

	r.TxStopped = word&regs.DMAChTPS != 0
	r.RxBufferUnavailable = word&regs.DMAChRBU != 0
	r.RxStopped = word&regs.DMAChRPS != 0
	r.RxWatchdog = word&regs.DMAChRWT != 0
	r.ContextError = word&regs.DMAChCDE != 0

	if word&regs.DMAChFBE != 0 {
		teb := word >> regs.DMAChTEBShift & regs.DMAChEBMask
		reb := word >> regs.DMAChREBShift & regs.DMAChEBMask
		switch {
		case teb == 0 && reb == 0:
			// No sub-reason latched; the faulting side is unknown.
			r.Faults = append(r.Faults, Fault{Dir: Both})
		default:
			if teb != 0 {
				r.Faults = append(r.Faults, busFault(Tx, teb))
			}
			if reb != 0 {
				r.Faults = append(r.Faults, busFault(Rx, reb))
			}
		}
	}
	return r
}

func busFault(dir Direction, eb uint32) Fault {
	f := Fault{Dir: dir, Data: eb&regs.BusErrData != 0}
	if eb&regs.BusErrRead != 0 {
		f.Access = Read
	}
	if eb&regs.BusErrDescriptor != 0 {
		f.Resource = Descriptor
	}
	return f
}

// Clear returns the write-1-to-clear mask that acknowledges exactly the
// decoded bits, including the summary bits and error sub-reason fields.
func (r Report) Clear() uint32 {
	return r.Raw
}

// Fatal reports whether a fatal bus error was decoded.
func (r Report) Fatal() bool {
	return len(r.Faults) > 0
}

// FaultFor returns the fault affecting dir, if any.
func (r Report) FaultFor(dir Direction) (Fault, bool) {
	for _, f := range r.Faults {
		if f.Dir&dir != 0 {
			return f, true
		}
	}
	return Fault{}, false
}

func (r Report) String() string {
	var parts []string
	add := func(ok bool, name string) {
		if ok {
			parts = append(parts, name)
		}
	}
	add(r.TxComplete, "tx-complete")
	add(r.TxBufferUnavailable, "tx-buffer-unavailable")
	add(r.RxComplete, "rx-complete")
	add(r.EarlyTx, "early-tx")
	add(r.EarlyRx, "early-rx")
	add(r.TxStopped, "tx-stopped")
	add(r.RxBufferUnavailable, "rx-buffer-unavailable")
	add(r.RxStopped, "rx-stopped")
	add(r.RxWatchdog, "rx-watchdog")
	add(r.ContextError, "context-error")
	for _, f := range r.Faults {
		parts = append(parts, f.String())
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, ",")
}

// Condition is one per-descriptor completion error.
type Condition uint8

const (
	CRCError Condition = iota + 1
	Overflow
	Watchdog
	Oversize
	ReceiveError
	Dribble
	TxUnderflow
	Jabber
	CarrierLoss
	ExcessiveCollisions
	FatalBus
)

var conditionNames = map[Condition]string{
	CRCError:            "crc-error",
	Overflow:            "overflow",
	Watchdog:            "watchdog-timeout",
	Oversize:            "oversize",
	ReceiveError:        "receive-error",
	Dribble:             "dribble",
	TxUnderflow:         "tx-underflow",
	Jabber:              "jabber-timeout",
	CarrierLoss:         "carrier-loss",
	ExcessiveCollisions: "excessive-collisions",
	FatalBus:            "fatal-bus-error",
}

func (c Condition) String() string {
	if s, ok := conditionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("condition(%d)", uint8(c))
}

type bitCondition struct {
	bit  uint32
	cond Condition
}

var rxConditions = []bitCondition{
	{ring.Des3RxCE, CRCError},
	{ring.Des3RxOE, Overflow},
	{ring.Des3RxRWT, Watchdog},
	{ring.Des3RxGP, Oversize},
	{ring.Des3RxRE, ReceiveError},
	{ring.Des3RxDE, Dribble},
}

var txConditions = []bitCondition{
	{ring.Des3TxUF, TxUnderflow},
	{ring.Des3TxJT, Jabber},
	{ring.Des3TxLoC, CarrierLoss},
	{ring.Des3TxNC, CarrierLoss},
	{ring.Des3TxEC, ExcessiveCollisions},
}

// Completion is a decoded descriptor write-back word.
type Completion struct {
	Length     int
	First      bool
	Last       bool
	Conditions []Condition
}

// OK reports whether the descriptor completed without error.
func (c Completion) OK() bool {
	return len(c.Conditions) == 0
}

// DecodeRx decodes an RX write-back word 3. The error summary bit is not a
// condition of its own; only the specific cause bits are reported.
func DecodeRx(des3 uint32) Completion {
	c := Completion{
		Length: int(des3 & ring.Des3RxPLMask),
		First:  des3&ring.Des3FD != 0,
		Last:   des3&ring.Des3LD != 0,
	}
	for _, bc := range rxConditions {
		if des3&bc.bit != 0 {
			c.Conditions = append(c.Conditions, bc.cond)
		}
	}
	if len(c.Conditions) == 0 && des3&ring.Des3RxES != 0 {
		c.Conditions = append(c.Conditions, ReceiveError)
	}
	return c
}

// DecodeTx decodes a TX write-back word 3. Loss of carrier and no carrier
// collapse into one CarrierLoss condition.
func DecodeTx(des3 uint32) Completion {
	c := Completion{
		First: des3&ring.Des3FD != 0,
		Last:  des3&ring.Des3LD != 0,
	}
	seen := make(map[Condition]bool)
	for _, bc := range txConditions {
		if des3&bc.bit != 0 && !seen[bc.cond] {
			seen[bc.cond] = true
			c.Conditions = append(c.Conditions, bc.cond)
		}
	}
	return c
}
