package dwmac_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophgo/dwmac/internal/dwmac"
	"github.com/sophgo/dwmac/internal/emu"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/status"
)

var rxRegisters = []uint32{
	regs.DMAChRxListHigh,
	regs.DMAChRxListLow,
	regs.DMAChRxRingLen,
	regs.DMAChRxControl,
	regs.DMAChRxTail,
	regs.DMAChCurRxDesc,
	regs.DMAChIntrEnable,
}

var txRegisters = []uint32{
	regs.DMAChTxListHigh,
	regs.DMAChTxListLow,
	regs.DMAChTxRingLen,
	regs.DMAChTxControl,
	regs.DMAChTxTail,
	regs.DMAChCurTxDesc,
	regs.DMAChIntrEnable,
}

func TestRxFatalBusErrorResetsRing(t *testing.T) {
	r := newRig(t, rigOptions{})
	fresh := r.mac.Snapshot(rxRegisters...)
	outstanding := r.space.Outstanding()

	for i := 0; i < 3; i++ {
		require.True(t, r.mac.Inject(ethFrame(t, station, peer, 64)))
		_, err := r.dev.Receive(make([]byte, 1536))
		require.NoError(t, err)
	}
	require.NotEqual(t, fresh, r.mac.Snapshot(rxRegisters...))
	require.True(t, r.mac.Inject(ethFrame(t, station, peer, 64)), "a frame in flight is lost by the reset")

	r.mac.RaiseFatal(status.Rx, regs.BusErrRead|regs.BusErrDescriptor)

	_, err := r.dev.Receive(make([]byte, 1536))
	require.ErrorIs(t, err, dwmac.ErrDeviceFault)
	var de *dwmac.DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, status.Rx, de.Dir)
	assert.True(t, de.Has(status.FatalBus))
	require.Len(t, de.Faults, 1)
	assert.Equal(t, status.Fault{Dir: status.Rx, Access: status.Read, Resource: status.Descriptor}, de.Faults[0])

	assert.Equal(t, fresh, r.mac.Snapshot(rxRegisters...))
	assert.Zero(t, r.mac.Snapshot(regs.DMAChStatus)[regs.DMAChStatus], "status acknowledged")
	assert.Equal(t, outstanding, r.space.Outstanding())

	_, err = r.dev.Receive(make([]byte, 1536))
	assert.ErrorIs(t, err, dwmac.ErrNoFrame, "the fault is reported once")

	require.True(t, r.mac.Inject(ethFrame(t, station, peer, 64)))
	_, err = r.dev.Receive(make([]byte, 1536))
	require.NoError(t, err)

	stats, err := r.dev.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats[dwmac.DMAFatalErrors])
	assert.Equal(t, uint64(1), stats[dwmac.DMADirectionResets])
}

func TestTxFatalBusErrorHeldForTransmit(t *testing.T) {
	r := newRig(t, rigOptions{mac: []emu.Option{emu.WithManualTx()}})
	fresh := r.mac.Snapshot(txRegisters...)

	pending := ethFrame(t, peer, station, 60)
	require.NoError(t, r.dev.Transmit(nil, pending))
	r.mac.RaiseFatal(status.Tx, regs.BusErrData)

	// The receive path notices the fault and resets TX, but does not own it.
	_, err := r.dev.Receive(make([]byte, 1536))
	require.ErrorIs(t, err, dwmac.ErrNoFrame)
	assert.Equal(t, fresh, r.mac.Snapshot(txRegisters...))

	err = r.dev.Transmit(nil, ethFrame(t, peer, station, 60))
	var de *dwmac.DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, status.Tx, de.Dir)
	assert.True(t, de.Faults[0].Data)

	got, err := r.dev.Reap()
	require.NoError(t, err)
	assert.Same(t, &pending[0], &got[0], "frames dropped by the reset are still recycled")

	require.NoError(t, r.dev.Transmit(nil, ethFrame(t, peer, station, 60)))
	assert.Equal(t, 1, r.mac.CompleteTx(-1))
}

func TestGetStatusFaultKeepsRecycled(t *testing.T) {
	r := newRig(t, rigOptions{mac: []emu.Option{emu.WithManualTx()}})
	p := ethFrame(t, peer, station, 60)
	require.NoError(t, r.dev.Transmit(nil, p))
	require.Equal(t, 1, r.mac.CompleteTx(-1))
	r.mac.RaiseFatal(status.Both, 0)

	mask, buf, err := r.dev.GetStatus()
	require.ErrorIs(t, err, dwmac.ErrDeviceFault)
	assert.Zero(t, mask)
	assert.Nil(t, buf, "nothing is handed out with an error")

	got, err := r.dev.Reap()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Same(t, &p[0], &got[0])

	mask, buf, err = r.dev.GetStatus()
	require.NoError(t, err)
	assert.Nil(t, buf)
	assert.NotZero(t, mask&dwmac.TxInterrupt, "the interrupt mask survives the faulting call")
}

func TestFatalBusErrorWithoutDirection(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.mac.RaiseFatal(status.Both, 0)

	_, _, err := r.dev.GetStatus()
	var de *dwmac.DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, status.Both, de.Dir)
	require.Len(t, de.Faults, 1)

	_, _, err = r.dev.GetStatus()
	assert.NoError(t, err)
	_, err = r.dev.Receive(make([]byte, 1536))
	assert.ErrorIs(t, err, dwmac.ErrNoFrame)
	assert.NoError(t, r.dev.Transmit(nil, ethFrame(t, peer, station, 60)))
}

func TestGetStatus(t *testing.T) {
	r := newRig(t, rigOptions{mac: []emu.Option{emu.WithLoopback()}})

	mask, recycled, err := r.dev.GetStatus()
	require.NoError(t, err)
	assert.Zero(t, mask)
	assert.Nil(t, recycled)

	a := ethFrame(t, station, peer, 60)
	b := ethFrame(t, station, peer, 61)
	require.NoError(t, r.dev.Transmit(nil, a))
	require.NoError(t, r.dev.Transmit(nil, b))

	mask, recycled, err = r.dev.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, dwmac.RxInterrupt|dwmac.TxInterrupt, mask)
	assert.Equal(t, "rx|tx", mask.String())
	assert.Same(t, &a[0], &recycled[0])

	mask, recycled, err = r.dev.GetStatus()
	require.NoError(t, err)
	assert.Zero(t, mask, "interrupt sources are reported once")
	assert.Same(t, &b[0], &recycled[0])
}
