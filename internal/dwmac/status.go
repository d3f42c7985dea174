package dwmac

import (
	"strings"

	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/status"
)

// InterruptMask reports which directions completed work since the last
// GetStatus.
type InterruptMask uint8

const (
	RxInterrupt InterruptMask = 1 << iota
	TxInterrupt
)

func (m InterruptMask) String() string {
	var parts []string
	if m&RxInterrupt != 0 {
		parts = append(parts, "rx")
	}
	if m&TxInterrupt != 0 {
		parts = append(parts, "tx")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// GetStatus returns the interrupt sources seen since the previous call and
// at most one recycled transmit payload. A fatal bus error not yet
// reported by Transmit or Receive is returned here instead, after the
// affected direction has been reset. In that case the interrupt mask and
// the recycle list are left for the next call.
func (d *Device) GetStatus() (InterruptMask, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return 0, nil, stateError("get status", d.state)
	}

	d.pollStatusLocked()
	d.reclaimTxLocked()
	if faults := d.takeFaultsLocked(status.Both); faults != nil {
		var dir status.Direction
		for _, f := range faults {
			dir |= f.Dir
		}
		return 0, nil, &DeviceError{Dir: dir, Conditions: []status.Condition{status.FatalBus}, Faults: faults}
	}

	mask := d.pending
	d.pending = 0
	return mask, d.popRecycledLocked(), nil
}

// pollStatusLocked reads and acknowledges the DMA channel status. Completion
// bits accumulate until GetStatus; fatal bus errors reset the faulting
// direction at once and are held until a caller of that direction
// collects them.
func (d *Device) pollStatusLocked() {
	word := d.regs.Read32(regs.DMAChStatus)
	if word == 0 {
		return
	}
	r := status.Decode(word)
	d.regs.Write32(regs.DMAChStatus, r.Clear())

	if r.RxComplete || r.EarlyRx {
		d.pending |= RxInterrupt
	}
	if r.TxComplete || r.EarlyTx {
		d.pending |= TxInterrupt
	}
	if r.RxBufferUnavailable {
		d.log.Debug("dwmac: receive buffers unavailable", "posted", d.rx.InFlight())
	}
	if r.ContextError {
		d.log.Warn("dwmac: context descriptor error")
	}
	if !r.Fatal() {
		return
	}

	d.counters.inc(DMAFatalErrors, len(r.Faults))
	d.held = append(d.held, r.Faults...)
	for _, dir := range []status.Direction{status.Tx, status.Rx} {
		if f, ok := r.FaultFor(dir); ok {
			d.log.Error("dwmac: fatal bus error", "dir", dir.String(), "fault", f.String(), "status", r.String())
			d.resetDirectionLocked(dir)
		}
	}
}

// takeFaultsLocked removes and returns the held faults affecting dir.
func (d *Device) takeFaultsLocked(dir status.Direction) []status.Fault {
	var out, keep []status.Fault
	for _, f := range d.held {
		if f.Dir&dir != 0 {
			out = append(out, f)
		} else {
			keep = append(keep, f)
		}
	}
	d.held = keep
	return out
}

// resetDirectionLocked recovers one DMA direction after a fatal bus error:
// mask its interrupts, stop it, drop every in-flight slot, re-arm the ring
// the same way Initialize does, and unmask.
func (d *Device) resetDirectionLocked(dir status.Direction) {
	switch dir {
	case status.Tx:
		regs.Clear(d.regs, regs.DMAChIntrEnable, regs.IntrTx)
		regs.Clear(d.regs, regs.DMAChTxControl, regs.DMAChTxST)
		d.drainTxLocked()
		d.programTxLocked()
		regs.Set(d.regs, regs.DMAChIntrEnable, regs.IntrTx)
	case status.Rx:
		regs.Clear(d.regs, regs.DMAChIntrEnable, regs.IntrRx)
		regs.Clear(d.regs, regs.DMAChRxControl, regs.DMAChRxSR)
		d.drainRxLocked()
		if err := d.fillRxLocked(); err != nil {
			d.counters.inc(RxReplenishFailures, 1)
			d.log.Warn("dwmac: refill after receive reset", "error", err)
		}
		d.programRxLocked()
		regs.Set(d.regs, regs.DMAChIntrEnable, regs.IntrRx)
	default:
		return
	}
	d.counters.inc(DMADirectionResets, 1)
	d.log.Info("dwmac: dma direction reset", "dir", dir.String())
}
