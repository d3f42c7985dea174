package dwmac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sophgo/dwmac/internal/status"
)

// Error classes. Every error returned by Device matches exactly one of them
// with errors.Is.
var (
	// ErrBackpressure means the operation could not make progress right
	// now (ring full, no frame ready, link down). Retrying later may work.
	ErrBackpressure = errors.New("dwmac: transient backpressure")
	// ErrResourceExhausted means a buffer or mapping could not be
	// allocated. Only the failing call is affected.
	ErrResourceExhausted = errors.New("dwmac: resources exhausted")
	// ErrDeviceFault reports a hardware error condition.
	ErrDeviceFault = errors.New("dwmac: device error")
	// ErrInvalidState means the call is not legal in the current lifecycle
	// state.
	ErrInvalidState = errors.New("dwmac: operation not valid in current state")
	// ErrBufferTooSmall means the caller's receive buffer cannot hold the
	// pending frame.
	ErrBufferTooSmall = errors.New("dwmac: buffer too small")
	// ErrInvalidFrame rejects malformed transmit requests.
	ErrInvalidFrame = errors.New("dwmac: invalid frame")
)

var (
	ErrRingFull = fmt.Errorf("%w: transmit ring full", ErrBackpressure)
	ErrNoFrame  = fmt.Errorf("%w: no frame ready", ErrBackpressure)
	ErrLinkDown = fmt.Errorf("%w: link down", ErrBackpressure)
)

// BufferTooSmallError carries the size needed to receive the pending frame.
// The frame stays queued so the caller can retry with a larger buffer.
type BufferTooSmallError struct {
	Required int
	Have     int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("dwmac: buffer too small: frame needs %d bytes, have %d", e.Required, e.Have)
}

func (e *BufferTooSmallError) Unwrap() error {
	return ErrBufferTooSmall
}

// DeviceError describes a hardware fault. Fatal bus errors have already
// been recovered from by resetting the affected direction when the error is
// returned.
type DeviceError struct {
	Dir        status.Direction
	Conditions []status.Condition
	Faults     []status.Fault
}

func (e *DeviceError) Error() string {
	var parts []string
	for _, c := range e.Conditions {
		parts = append(parts, c.String())
	}
	for _, f := range e.Faults {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("dwmac: %s device error: %s", e.Dir, strings.Join(parts, ", "))
}

func (e *DeviceError) Unwrap() error {
	return ErrDeviceFault
}

// Has reports whether c is among the error's conditions.
func (e *DeviceError) Has(c status.Condition) bool {
	for _, have := range e.Conditions {
		if have == c {
			return true
		}
	}
	return false
}

func stateError(op string, s State) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s)
}
