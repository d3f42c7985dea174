// Package dwmac drives the descriptor-ring DMA engine of a DesignWare-style
// Ethernet MAC: transmit and receive rings over DMA memory, fault recovery,
// receive filtering and statistics.
//
// A Device is polled. Nothing advances the rings in the background; the
// controller makes progress on its own and software observes it from
// Transmit, Receive, Reap and GetStatus.
package dwmac

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/sophgo/dwmac/internal/dma"
	"github.com/sophgo/dwmac/internal/pcap"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/ring"
	"github.com/sophgo/dwmac/internal/rxfilter"
	"github.com/sophgo/dwmac/internal/status"
)

// State is the device lifecycle state.
type State uint8

const (
	Stopped State = iota
	Started
	Initialized
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Initialized:
		return "initialized"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

var errClosed = fmt.Errorf("%w: device closed", ErrInvalidState)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// WithCapture copies every transmitted and delivered frame to t.
func WithCapture(t *pcap.Tap) Option {
	return func(d *Device) { d.tap = t }
}

// WithMetrics registers the software counters in r instead of a private
// registry.
func WithMetrics(r metrics.Registry) Option {
	return func(d *Device) { d.registry = r }
}

// WithStationAddress fixes the station address, overriding the config and
// whatever the controller holds.
func WithStationAddress(mac net.HardwareAddr) Option {
	return func(d *Device) { d.station = append(net.HardwareAddr(nil), mac...) }
}

// Device is one MAC instance. All methods are safe for concurrent use.
type Device struct {
	cfg      Config
	regs     regs.Accessor
	mapper   dma.Mapper
	link     LinkProvider
	log      *slog.Logger
	tap      *pcap.Tap
	registry metrics.Registry
	counters *counters

	mu     sync.Mutex
	state  State
	closed bool

	station    net.HardwareAddr
	filterMode rxfilter.Mode
	mcast      []net.HardwareAddr
	filter     *rxfilter.Filter

	arena  *dma.Arena
	pool   *dma.Pool
	tx     *ring.Ring
	rx     *ring.Ring
	txDesc dma.Handle
	rxDesc dma.Handle

	recycle    [][]byte
	linkStatus LinkStatus
	pending    InterruptMask
	held       []status.Fault
}

// New creates a stopped device. A nil link provider reports a permanent
// 1000Mb/s full-duplex link.
func New(cfg Config, a regs.Accessor, m dma.Mapper, link LinkProvider, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if a == nil || m == nil {
		return nil, errors.New("dwmac: register accessor and mapper are required")
	}
	if link == nil {
		link = alwaysUp{}
	}
	d := &Device{
		cfg:        cfg,
		regs:       a,
		mapper:     m,
		link:       link,
		log:        slog.Default(),
		filterMode: rxfilter.DefaultMode,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.station == nil && cfg.StationAddress != "" {
		d.station, _ = parseStation(cfg.StationAddress)
	}
	if d.registry == nil {
		d.registry = metrics.NewRegistry()
	}
	d.counters = newCounters(d.registry)
	return d, nil
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Station returns the station address. It is nil until the device has been
// started.
func (d *Device) Station() net.HardwareAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(net.HardwareAddr(nil), d.station...)
}

// Registry returns the metrics registry holding the software counters.
func (d *Device) Registry() metrics.Registry {
	return d.registry
}

// Start moves a stopped device to Started.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	if d.state != Stopped {
		return stateError("start", d.state)
	}
	if d.station == nil {
		d.station = d.readStationLocked()
	}
	d.state = Started
	d.log.Info("dwmac: started", "station", d.station.String())
	return nil
}

// Stop halts DMA, releases every ring resource and returns to Stopped.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Stopped {
		return stateError("stop", d.state)
	}
	if d.state == Initialized {
		d.teardownLocked()
	}
	if n := len(d.recycle); n > 0 {
		d.log.Debug("dwmac: discarding unreaped transmit buffers", "count", n)
	}
	d.recycle = nil
	d.state = Stopped
	d.log.Info("dwmac: stopped")
	return nil
}

// Initialize resets the controller, builds the rings and buffer pool,
// programs the MAC and brings the link up.
func (d *Device) Initialize() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errClosed
	}
	if d.state != Started {
		s := d.state
		d.mu.Unlock()
		return stateError("initialize", s)
	}
	if err := d.setupLocked(); err != nil {
		d.releaseLocked()
		d.mu.Unlock()
		return err
	}
	d.state = Initialized
	d.mu.Unlock()

	d.log.Info("dwmac: initialized",
		"tx_ring", d.cfg.TxRingSize,
		"rx_ring", d.cfg.RxRingSize,
		"buffer_size", d.cfg.BufferSize,
		"width", d.cfg.width().String())

	if ls, err := d.pollLink(); err != nil {
		d.log.Warn("dwmac: link poll failed", "error", err)
	} else if !ls.Up {
		d.log.Info("dwmac: link down after initialize")
	}
	return nil
}

// Shutdown tears down the rings and buffers and returns to Started.
func (d *Device) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return stateError("shutdown", d.state)
	}
	d.teardownLocked()
	d.state = Started
	d.log.Info("dwmac: shut down")
	return nil
}

// Close stops the device if needed. A closed device cannot be restarted.
func (d *Device) Close() error {
	d.mu.Lock()
	running := d.state != Stopped
	d.mu.Unlock()
	if running {
		if err := d.Stop(); err != nil && !errors.Is(err, ErrInvalidState) {
			return err
		}
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *Device) softResetLocked() error {
	d.regs.Write32(regs.DMAMode, regs.DMAModeSWR)
	for i := 0; i < d.cfg.ResetPollLimit; i++ {
		if d.regs.Read32(regs.DMAMode)&regs.DMAModeSWR == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: software reset did not complete after %d polls", ErrDeviceFault, d.cfg.ResetPollLimit)
}

func (d *Device) setupLocked() error {
	if err := d.softResetLocked(); err != nil {
		return err
	}

	txN, rxN := d.cfg.TxRingSize, d.cfg.RxRingSize
	// Each ring keeps one descriptor empty. One extra buffer covers the
	// receive replenish window.
	bufs := (txN - 1) + (rxN - 1) + 1
	size := (txN+rxN)*ring.DescSize + 2*64 + bufs*((d.cfg.BufferSize+63)&^63)

	var err error
	if d.arena, err = dma.NewArena(size); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	if d.tx, d.txDesc, err = d.newRingLocked(ring.Transmit, txN); err != nil {
		return err
	}
	if d.rx, d.rxDesc, err = d.newRingLocked(ring.Receive, rxN); err != nil {
		return err
	}
	if d.pool, err = dma.NewPool(d.arena, bufs, d.cfg.BufferSize); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	d.regs.Write32(regs.DMASysBusMode, 0)
	d.programTxLocked()
	if err := d.fillRxLocked(); err != nil {
		return err
	}
	d.programRxLocked()

	d.programStationLocked()
	if err := d.applyFilterLocked(d.filterMode, d.mcast); err != nil {
		return err
	}
	d.linkStatus = LinkStatus{}
	regs.Set(d.regs, regs.MACConfig, regs.MACConfigRE|regs.MACConfigTE)
	d.regs.Write32(regs.DMAChIntrEnable, regs.IntrTx|regs.IntrRx|regs.IntrCommon)
	return nil
}

func (d *Device) newRingLocked(kind ring.Kind, n int) (*ring.Ring, dma.Handle, error) {
	mem, err := d.arena.Alloc(n*ring.DescSize, 64)
	if err != nil {
		return nil, dma.Handle{}, fmt.Errorf("%w: %s descriptors: %v", ErrResourceExhausted, kind, err)
	}
	h, err := d.mapper.Map(mem, dma.Bidirectional)
	if err != nil {
		return nil, dma.Handle{}, fmt.Errorf("%w: map %s descriptors: %v", ErrResourceExhausted, kind, err)
	}
	r, err := ring.New(kind, mem, h.Addr, n)
	if err != nil {
		_ = d.mapper.Unmap(h)
		return nil, dma.Handle{}, err
	}
	return r, h, nil
}

// programTxLocked points the TX channel at an empty ring and starts it.
// Initialize and the TX fault recovery share it so both leave identical
// register state.
func (d *Device) programTxLocked() {
	base := d.tx.Base()
	d.regs.Write32(regs.DMAChTxListHigh, uint32(base>>32))
	d.regs.Write32(regs.DMAChTxListLow, uint32(base))
	d.regs.Write32(regs.DMAChTxRingLen, uint32(d.tx.Len()-1))
	regs.Doorbell(d.regs, regs.DMAChTxTail, uint32(d.tx.Addr(d.tx.Head())))
	regs.Set(d.regs, regs.DMAChTxControl, regs.DMAChTxST)
}

// programRxLocked points the RX channel at a filled ring and starts it.
func (d *Device) programRxLocked() {
	base := d.rx.Base()
	d.regs.Write32(regs.DMAChRxListHigh, uint32(base>>32))
	d.regs.Write32(regs.DMAChRxListLow, uint32(base))
	d.regs.Write32(regs.DMAChRxRingLen, uint32(d.rx.Len()-1))
	ctl := d.regs.Read32(regs.DMAChRxControl) &^ regs.DMAChRxBufSizeMask
	ctl |= uint32(d.cfg.BufferSize) << regs.DMAChRxBufSizeShift & regs.DMAChRxBufSizeMask
	d.regs.Write32(regs.DMAChRxControl, ctl)
	regs.Doorbell(d.regs, regs.DMAChRxTail, uint32(d.rx.Addr(d.rx.Head())))
	regs.Set(d.regs, regs.DMAChRxControl, regs.DMAChRxSR)
}

// haltLocked stops both DMA directions and the MAC, and masks interrupts.
func (d *Device) haltLocked() {
	d.regs.Write32(regs.DMAChIntrEnable, 0)
	regs.Clear(d.regs, regs.DMAChTxControl, regs.DMAChTxST)
	regs.Clear(d.regs, regs.DMAChRxControl, regs.DMAChRxSR)
	regs.Clear(d.regs, regs.MACConfig, regs.MACConfigRE|regs.MACConfigTE)
}

func (d *Device) teardownLocked() {
	d.haltLocked()
	d.drainTxLocked()
	d.drainRxLocked()
	d.releaseLocked()
	d.pending = 0
	d.held = nil
	d.linkStatus = LinkStatus{}
}

// releaseLocked unmaps the descriptor rings and frees the arena. Ring
// slots must already be drained.
func (d *Device) releaseLocked() {
	for _, h := range []*dma.Handle{&d.txDesc, &d.rxDesc} {
		if h.Valid() {
			if err := d.mapper.Unmap(*h); err != nil {
				d.log.Warn("dwmac: unmap descriptors", "error", err)
			}
			*h = dma.Handle{}
		}
	}
	if d.tx != nil {
		d.drainTxLocked()
	}
	if d.rx != nil {
		d.drainRxLocked()
	}
	d.tx, d.rx, d.pool = nil, nil, nil
	if d.arena != nil {
		if err := d.arena.Close(); err != nil {
			d.log.Warn("dwmac: release dma arena", "error", err)
		}
		d.arena = nil
	}
}

// releaseSlot unmaps a slot's buffer and returns it to the pool.
func (d *Device) releaseSlot(s ring.Slot) {
	if s.Handle.Valid() {
		if err := d.mapper.Unmap(s.Handle); err != nil {
			d.log.Warn("dwmac: unmap buffer", "slot", s.Index, "error", err)
		}
	}
	if s.Buffer != nil {
		if err := d.pool.Put(s.Buffer); err != nil {
			d.log.Warn("dwmac: return buffer", "slot", s.Index, "error", err)
		}
	}
}

func (d *Device) readStationLocked() net.HardwareAddr {
	hi := d.regs.Read32(regs.MACAddr0High)
	lo := d.regs.Read32(regs.MACAddr0Low)
	mac := net.HardwareAddr{byte(lo), byte(lo >> 8), byte(lo >> 16), byte(lo >> 24), byte(hi), byte(hi >> 8)}
	if !isZero(mac) && !isBroadcast(mac) && !isMulticast(mac) {
		return mac
	}
	// No usable burned-in address; make up a locally administered one.
	mac = make(net.HardwareAddr, 6)
	_, _ = rand.Read(mac)
	mac[0] = mac[0]&^0x01 | 0x02
	d.log.Info("dwmac: using random station address", "station", mac.String())
	return mac
}

func (d *Device) programStationLocked() {
	mac := d.station
	d.regs.Write32(regs.MACAddr0High, regs.MACAddrAE|uint32(mac[5])<<8|uint32(mac[4]))
	d.regs.Write32(regs.MACAddr0Low, uint32(mac[3])<<24|uint32(mac[2])<<16|uint32(mac[1])<<8|uint32(mac[0]))
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
