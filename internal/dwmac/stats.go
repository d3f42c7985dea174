package dwmac

import (
	"sort"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/sophgo/dwmac/internal/regs"
)

// Counter names one statistics category.
type Counter string

// Hardware counters read from the MMC block.
const (
	RxTotalFrames     Counter = "rx.total_frames"
	RxTotalBytes      Counter = "rx.total_bytes"
	RxBroadcastFrames Counter = "rx.broadcast_frames"
	RxMulticastFrames Counter = "rx.multicast_frames"
	RxUnicastFrames   Counter = "rx.unicast_frames"
	RxCRCErrorFrames  Counter = "rx.crc_error_frames"
	RxUndersizeFrames Counter = "rx.undersize_frames"
	RxOversizeFrames  Counter = "rx.oversize_frames"
	RxFIFOOverflows   Counter = "rx.fifo_overflows"
	RxWatchdogErrors  Counter = "rx.watchdog_errors"
	TxTotalFrames     Counter = "tx.total_frames"
	TxGoodFrames      Counter = "tx.good_frames"
	TxTotalBytes      Counter = "tx.total_bytes"
	TxBroadcastFrames Counter = "tx.broadcast_frames"
	TxMulticastFrames Counter = "tx.multicast_frames"
	TxUnderflows      Counter = "tx.underflows"
	TxCarrierErrors   Counter = "tx.carrier_errors"
)

// Software counters kept by the engine.
const (
	RxDeliveredFrames   Counter = "rx.delivered_frames"
	RxDeliveredBytes    Counter = "rx.delivered_bytes"
	RxDroppedFrames     Counter = "rx.dropped_frames"
	RxErrorFrames       Counter = "rx.error_frames"
	RxReplenishFailures Counter = "rx.replenish_failures"
	TxQueuedFrames      Counter = "tx.queued_frames"
	TxQueuedBytes       Counter = "tx.queued_bytes"
	TxRingFullEvents    Counter = "tx.ring_full"
	TxErrorFrames       Counter = "tx.error_frames"
	TxMapFailures       Counter = "tx.map_failures"
	DMAFatalErrors      Counter = "dma.fatal_errors"
	DMADirectionResets  Counter = "dma.direction_resets"
)

var mmcCounters = map[Counter]uint32{
	RxTotalFrames:     regs.MMCRxFrameCountGB,
	RxTotalBytes:      regs.MMCRxOctetCountGB,
	RxBroadcastFrames: regs.MMCRxBroadcastG,
	RxMulticastFrames: regs.MMCRxMulticastG,
	RxUnicastFrames:   regs.MMCRxUnicastG,
	RxCRCErrorFrames:  regs.MMCRxCRCError,
	RxUndersizeFrames: regs.MMCRxUndersizeG,
	RxOversizeFrames:  regs.MMCRxOversizeG,
	RxFIFOOverflows:   regs.MMCRxFIFOOverflow,
	RxWatchdogErrors:  regs.MMCRxWatchdog,
	TxTotalFrames:     regs.MMCTxFrameCountGB,
	TxGoodFrames:      regs.MMCTxFrameCountG,
	TxTotalBytes:      regs.MMCTxOctetCountGB,
	TxBroadcastFrames: regs.MMCTxBroadcastG,
	TxMulticastFrames: regs.MMCTxMulticastG,
	TxUnderflows:      regs.MMCTxUnderflow,
	TxCarrierErrors:   regs.MMCTxCarrierError,
}

var softCounters = []Counter{
	RxDeliveredFrames,
	RxDeliveredBytes,
	RxDroppedFrames,
	RxErrorFrames,
	RxReplenishFailures,
	TxQueuedFrames,
	TxQueuedBytes,
	TxRingFullEvents,
	TxErrorFrames,
	TxMapFailures,
	DMAFatalErrors,
	DMADirectionResets,
}

// Statistics maps each category to its count.
type Statistics map[Counter]uint64

// Names returns the categories in sorted order.
func (s Statistics) Names() []Counter {
	out := make([]Counter, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type counters struct {
	soft       map[Counter]metrics.Counter
	txInFlight metrics.Gauge
	rxPosted   metrics.Gauge
}

func newCounters(r metrics.Registry) *counters {
	c := &counters{soft: make(map[Counter]metrics.Counter, len(softCounters))}
	for _, name := range softCounters {
		c.soft[name] = metrics.GetOrRegisterCounter("dwmac."+string(name), r)
	}
	c.txInFlight = metrics.GetOrRegisterGauge("dwmac.tx.in_flight", r)
	c.rxPosted = metrics.GetOrRegisterGauge("dwmac.rx.posted", r)
	return c
}

func (c *counters) inc(name Counter, n int) {
	c.soft[name].Inc(int64(n))
}

func (c *counters) clear() {
	for _, ctr := range c.soft {
		ctr.Clear()
	}
}

// GetStatistics returns hardware MMC counters merged with the engine's
// software counters.
func (d *Device) GetStatistics() (Statistics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Stopped || d.closed {
		return nil, stateError("statistics", d.state)
	}
	stats := make(Statistics, len(mmcCounters)+len(softCounters))
	for name, off := range mmcCounters {
		stats[name] = uint64(d.regs.Read32(off))
	}
	for name, ctr := range d.counters.soft {
		stats[name] = uint64(ctr.Count())
	}
	return stats, nil
}

// ResetStatistics zeroes the MMC block and the software counters.
func (d *Device) ResetStatistics() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Stopped || d.closed {
		return stateError("reset statistics", d.state)
	}
	d.regs.Write32(regs.MMCControl, regs.MMCControlCounterReset)
	d.counters.clear()
	return nil
}
