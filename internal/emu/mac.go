// Package emu emulates the parts of a DesignWare QoS MAC that the ring
// engine programs: the DMA channel with its descriptor rings, tail pointer
// doorbells and write-1-to-clear status, the MAC address filter and hash
// table, and the MMC counters.
//
// Frames only move when software rings a doorbell or a test calls one of
// the control methods. Nothing runs in the background.
package emu

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/ring"
	"github.com/sophgo/dwmac/internal/rxfilter"
	"github.com/sophgo/dwmac/internal/status"
)

// Memory resolves device addresses to host memory. dma.Space implements it.
type Memory interface {
	Memory(addr uint64, n int) ([]byte, error)
}

// MAC is an emulated controller. It implements regs.Accessor.
type MAC struct {
	file *regs.File
	mem  Memory
	log  *slog.Logger

	mu         sync.Mutex
	autoTx     bool
	loopback   bool
	resetDelay int
	txCur      int
	rxCur      int
	rxQueue    []queued
	sent       [][]byte
	txErrors   uint32
	dropped    int

	fenced    bool
	barriers  int
	doorbells int
	unfenced  int
}

type queued struct {
	frame  []byte
	errors uint32
	// extra is added to the written length in the write-back word.
	extra int
}

// Option configures a MAC.
type Option func(*MAC)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *MAC) { m.log = l }
}

// WithManualTx leaves transmit descriptors owned by the controller until
// CompleteTx is called.
func WithManualTx() Option {
	return func(m *MAC) { m.autoTx = false }
}

// WithLoopback feeds every transmitted frame back into the receive path.
func WithLoopback() Option {
	return func(m *MAC) { m.loopback = true }
}

// WithResetDelay keeps the software reset bit set for n reads. A negative
// n never clears it.
func WithResetDelay(n int) Option {
	return func(m *MAC) { m.resetDelay = n }
}

// New creates a controller that reaches DMA memory through mem.
func New(mem Memory, opts ...Option) *MAC {
	m := &MAC{
		file:   regs.NewFile(regs.RegisterSpanSize),
		mem:    mem,
		log:    slog.Default(),
		autoTx: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStation preloads the station address registers, as firmware would.
func (m *MAC) SetStation(mac net.HardwareAddr) {
	m.file.Store(regs.MACAddr0High, regs.MACAddrAE|uint32(mac[5])<<8|uint32(mac[4]))
	m.file.Store(regs.MACAddr0Low, uint32(mac[3])<<24|uint32(mac[2])<<16|uint32(mac[1])<<8|uint32(mac[0]))
}

// Read32 implements regs.Accessor.
func (m *MAC) Read32(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off == regs.DMAMode && m.file.Load(off)&regs.DMAModeSWR != 0 {
		switch {
		case m.resetDelay > 0:
			m.resetDelay--
		case m.resetDelay == 0:
			m.resetLocked()
		}
	}
	return m.file.Load(off)
}

// Write32 implements regs.Accessor.
func (m *MAC) Write32(off uint32, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch off {
	case regs.DMAMode:
		m.file.Store(off, val)
		if val&regs.DMAModeSWR != 0 && m.resetDelay == 0 {
			m.resetLocked()
		}
	case regs.DMAChStatus:
		m.file.AndNot(off, val)
	case regs.MMCControl:
		if val&regs.MMCControlCounterReset != 0 {
			m.clearCountersLocked()
		}
		m.file.Store(off, val&^regs.MMCControlCounterReset)
	case regs.DMAChTxListLow:
		m.file.Store(off, val)
		m.txCur = 0
		m.file.Store(regs.DMAChCurTxDesc, val)
	case regs.DMAChRxListLow:
		m.file.Store(off, val)
		m.rxCur = 0
		m.file.Store(regs.DMAChCurRxDesc, val)
	case regs.DMAChTxTail:
		m.doorbellLocked()
		m.file.Store(off, val)
		if m.autoTx {
			m.completeTxLocked(-1)
		}
	case regs.DMAChRxTail:
		m.doorbellLocked()
		m.file.Store(off, val)
		m.deliverLocked()
	case regs.DMAChTxControl:
		m.file.Store(off, val)
		if val&regs.DMAChTxST != 0 && m.autoTx {
			m.completeTxLocked(-1)
		}
	case regs.DMAChRxControl:
		m.file.Store(off, val)
		if val&regs.DMAChRxSR != 0 {
			m.deliverLocked()
		}
	default:
		m.file.Store(off, val)
	}
}

// Barrier implements regs.Accessor.
func (m *MAC) Barrier() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barriers++
	m.fenced = true
}

func (m *MAC) doorbellLocked() {
	m.doorbells++
	if !m.fenced {
		m.unfenced++
	}
	m.fenced = false
}

func (m *MAC) resetLocked() {
	hi, lo := m.file.Load(regs.MACAddr0High), m.file.Load(regs.MACAddr0Low)
	m.file.Reset()
	// The address registers are loaded from eFuse and survive a reset.
	m.file.Store(regs.MACAddr0High, hi)
	m.file.Store(regs.MACAddr0Low, lo)
	m.txCur, m.rxCur = 0, 0
	m.log.Debug("emu: software reset")
}

func (m *MAC) clearCountersLocked() {
	for off := regs.MMCTxOctetCountGB; off <= regs.MMCRxWatchdog; off += 4 {
		m.file.Store(off, 0)
	}
}

type chanRing struct {
	base uint64
	n    int
	tail uint64
}

func (m *MAC) txRing() chanRing {
	return chanRing{
		base: uint64(m.file.Load(regs.DMAChTxListHigh))<<32 | uint64(m.file.Load(regs.DMAChTxListLow)),
		n:    int(m.file.Load(regs.DMAChTxRingLen)) + 1,
		tail: uint64(m.file.Load(regs.DMAChTxTail)),
	}
}

func (m *MAC) rxRing() chanRing {
	return chanRing{
		base: uint64(m.file.Load(regs.DMAChRxListHigh))<<32 | uint64(m.file.Load(regs.DMAChRxListLow)),
		n:    int(m.file.Load(regs.DMAChRxRingLen)) + 1,
		tail: uint64(m.file.Load(regs.DMAChRxTail)),
	}
}

func (c chanRing) addr(i int) uint64 {
	return c.base + uint64(i)*ring.DescSize
}

func (m *MAC) desc(addr uint64) (ring.Desc, error) {
	b, err := m.mem.Memory(addr, ring.DescSize)
	if err != nil {
		return nil, err
	}
	return ring.Desc(b), nil
}

// CompleteTx finishes up to n queued transmit descriptors in ring order
// and returns how many it finished.
func (m *MAC) CompleteTx(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeTxLocked(n)
}

// completeTxLocked finishes queued descriptors; n < 0 means all of them.
func (m *MAC) completeTxLocked(n int) int {
	if m.file.Load(regs.DMAChTxControl)&regs.DMAChTxST == 0 {
		return 0
	}
	r := m.txRing()
	done := 0
	for n < 0 || done < n {
		addr := r.addr(m.txCur)
		if addr == r.tail {
			break
		}
		d, err := m.desc(addr)
		if err != nil {
			m.busFaultLocked(status.Tx, regs.BusErrRead|regs.BusErrDescriptor, err)
			return done
		}
		st := d.Status()
		if st&ring.Des3OWN == 0 {
			break
		}
		length := int(d.Word(2) & ring.Des2B1LMask)
		buf, err := m.mem.Memory(d.Addr(), length)
		if err != nil {
			m.busFaultLocked(status.Tx, regs.BusErrRead, err)
			return done
		}
		frame := append([]byte(nil), buf...)
		wb := st & (ring.Des3FD | ring.Des3LD)
		if m.txErrors != 0 {
			wb |= m.txErrors | ring.Des3TxES
			m.txErrors = 0
		} else {
			m.sent = append(m.sent, frame)
			m.countTxLocked(frame)
		}
		m.file.Add(regs.MMCTxFrameCountGB, 1)
		m.file.Add(regs.MMCTxOctetCountGB, uint32(len(frame)))
		d.Publish(wb)

		m.txCur = (m.txCur + 1) % r.n
		m.file.Store(regs.DMAChCurTxDesc, uint32(r.addr(m.txCur)))
		m.file.Or(regs.DMAChStatus, regs.DMAChTI|regs.DMAChNIS)
		done++

		if m.loopback && wb&ring.Des3TxES == 0 {
			m.enqueueLocked(queued{frame: frame})
		}
	}
	if m.loopback && done > 0 {
		m.deliverLocked()
	}
	return done
}

func (m *MAC) countTxLocked(frame []byte) {
	m.file.Add(regs.MMCTxFrameCountG, 1)
	switch dst := frame[:6]; {
	case isBroadcast(dst):
		m.file.Add(regs.MMCTxBroadcastG, 1)
	case dst[0]&1 != 0:
		m.file.Add(regs.MMCTxMulticastG, 1)
	}
}

// SetTxErrors makes the next transmit completion carry the given TDES3
// error bits.
func (m *MAC) SetTxErrors(bits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErrors = bits
}

// Inject offers a frame to the receive path. It returns false if the
// address filter dropped it.
func (m *MAC) Inject(frame []byte) bool {
	return m.InjectWithErrors(frame, 0)
}

// InjectWithErrors offers a frame whose write-back descriptor will carry
// the given RDES3 error bits.
func (m *MAC) InjectWithErrors(frame []byte, errBits uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enqueueLocked(queued{frame: frame, errors: errBits}) {
		return false
	}
	m.deliverLocked()
	return true
}

// InjectMisreported offers a frame whose write-back descriptor claims
// extra more bytes than were written to the buffer.
func (m *MAC) InjectMisreported(frame []byte, extra int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enqueueLocked(queued{frame: frame, extra: extra}) {
		return false
	}
	m.deliverLocked()
	return true
}

func (m *MAC) enqueueLocked(q queued) bool {
	if len(q.frame) < 14 || !m.acceptLocked(q.frame[:6]) {
		m.dropped++
		return false
	}
	q.frame = append([]byte(nil), q.frame...)
	m.rxQueue = append(m.rxQueue, q)
	return true
}

// acceptLocked applies the MAC address filter: perfect match on the
// station address, broadcast unless disabled, and multicast by hash.
func (m *MAC) acceptLocked(dst []byte) bool {
	pf := m.file.Load(regs.MACPacketFilter)
	if pf&regs.FilterPR != 0 {
		return true
	}
	if isBroadcast(dst) {
		return pf&regs.FilterDBF == 0
	}
	if dst[0]&1 != 0 {
		if pf&regs.FilterPM != 0 {
			return true
		}
		if pf&regs.FilterHMC != 0 {
			table := [2]uint32{m.file.Load(regs.MACHashTable0), m.file.Load(regs.MACHashTable1)}
			return rxfilter.HashHit(table, net.HardwareAddr(dst))
		}
		return false
	}
	hi := m.file.Load(regs.MACAddr0High)
	if hi&regs.MACAddrAE == 0 {
		return false
	}
	lo := m.file.Load(regs.MACAddr0Low)
	station := []byte{byte(lo), byte(lo >> 8), byte(lo >> 16), byte(lo >> 24), byte(hi), byte(hi >> 8)}
	return string(station) == string(dst)
}

// deliverLocked moves queued frames into posted receive buffers.
func (m *MAC) deliverLocked() {
	if m.file.Load(regs.DMAChRxControl)&regs.DMAChRxSR == 0 {
		return
	}
	r := m.rxRing()
	bufSize := int(m.file.Load(regs.DMAChRxControl) & regs.DMAChRxBufSizeMask >> regs.DMAChRxBufSizeShift)
	for len(m.rxQueue) > 0 {
		addr := r.addr(m.rxCur)
		if addr == r.tail {
			m.file.Or(regs.DMAChStatus, regs.DMAChRBU|regs.DMAChAIS)
			return
		}
		d, err := m.desc(addr)
		if err != nil {
			m.busFaultLocked(status.Rx, regs.BusErrRead|regs.BusErrDescriptor, err)
			return
		}
		if d.Status()&ring.Des3OWN == 0 {
			m.file.Or(regs.DMAChStatus, regs.DMAChRBU|regs.DMAChAIS)
			return
		}
		q := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]

		length := len(q.frame)
		wb := q.errors
		if length > bufSize {
			length = bufSize
			wb |= ring.Des3RxGP
		}
		buf, err := m.mem.Memory(d.Addr(), length)
		if err != nil {
			m.busFaultLocked(status.Rx, 0, err)
			return
		}
		copy(buf, q.frame[:length])
		if wb != 0 {
			wb |= ring.Des3RxES
		}
		m.countRxLocked(q.frame, wb)
		d.SetWord(0, 0)
		d.SetWord(1, 0)
		d.SetWord(2, 0)
		d.Publish(wb | ring.Des3FD | ring.Des3LD | uint32(length+q.extra)&ring.Des3RxPLMask)

		m.rxCur = (m.rxCur + 1) % r.n
		m.file.Store(regs.DMAChCurRxDesc, uint32(r.addr(m.rxCur)))
		m.file.Or(regs.DMAChStatus, regs.DMAChRI|regs.DMAChNIS)
	}
}

func (m *MAC) countRxLocked(frame []byte, wb uint32) {
	m.file.Add(regs.MMCRxFrameCountGB, 1)
	m.file.Add(regs.MMCRxOctetCountGB, uint32(len(frame)))
	switch {
	case wb&ring.Des3RxCE != 0:
		m.file.Add(regs.MMCRxCRCError, 1)
	case wb&ring.Des3RxOE != 0:
		m.file.Add(regs.MMCRxFIFOOverflow, 1)
	case wb&ring.Des3RxRWT != 0:
		m.file.Add(regs.MMCRxWatchdog, 1)
	case wb&ring.Des3RxGP != 0:
		m.file.Add(regs.MMCRxOversizeG, 1)
	case len(frame) < 60:
		m.file.Add(regs.MMCRxUndersizeG, 1)
	case isBroadcast(frame[:6]):
		m.file.Add(regs.MMCRxBroadcastG, 1)
	case frame[0]&1 != 0:
		m.file.Add(regs.MMCRxMulticastG, 1)
	default:
		m.file.Add(regs.MMCRxUnicastG, 1)
	}
}

// RaiseFatal latches a fatal bus error for dir and stops that DMA
// direction, as the controller does when a bus transfer fails.
func (m *MAC) RaiseFatal(dir status.Direction, eb uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raiseFatalLocked(dir, eb)
}

func (m *MAC) busFaultLocked(dir status.Direction, eb uint32, err error) {
	m.log.Warn("emu: dma access failed", "dir", dir.String(), "error", err)
	m.raiseFatalLocked(dir, eb|regs.BusErrData)
}

func (m *MAC) raiseFatalLocked(dir status.Direction, eb uint32) {
	word := regs.DMAChFBE | regs.DMAChAIS
	if dir&status.Tx != 0 {
		word |= (eb&regs.DMAChEBMask)<<regs.DMAChTEBShift | regs.DMAChTPS
		m.file.AndNot(regs.DMAChTxControl, regs.DMAChTxST)
	}
	if dir&status.Rx != 0 {
		word |= (eb&regs.DMAChEBMask)<<regs.DMAChREBShift | regs.DMAChRPS
		m.file.AndNot(regs.DMAChRxControl, regs.DMAChRxSR)
	}
	m.file.Or(regs.DMAChStatus, word)
}

// Sent returns copies of the frames transmitted without error, oldest
// first, and forgets them.
func (m *MAC) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sent
	m.sent = nil
	return out
}

// Queued returns the number of frames waiting for a receive buffer.
func (m *MAC) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rxQueue)
}

// Dropped returns the number of frames the address filter rejected.
func (m *MAC) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Doorbells returns the number of tail pointer writes and how many of them
// were not preceded by a barrier.
func (m *MAC) Doorbells() (total, unfenced int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doorbells, m.unfenced
}

// Snapshot returns the current values of the given registers without side
// effects.
func (m *MAC) Snapshot(offs ...uint32) map[uint32]uint32 {
	return m.file.Snapshot(offs...)
}

func (m *MAC) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("emu.MAC{tx=%d rx=%d queued=%d sent=%d}", m.txCur, m.rxCur, len(m.rxQueue), len(m.sent))
}

func isBroadcast(b []byte) bool {
	for _, v := range b[:6] {
		if v != 0xff {
			return false
		}
	}
	return true
}

var _ regs.Accessor = (*MAC)(nil)
