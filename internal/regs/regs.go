// Package regs names the controller registers the DMA engine touches and
// defines the register-access abstraction it drives them through.
//
// The offsets follow the DesignWare QoS (dwmac4) channel-0 layout. Only the
// registers needed by the ring engine are listed; silicon specific tables
// (PHY, PTP, MTL queue tuning) live outside this module.
package regs

// Accessor reads and writes 32-bit device registers at device-relative
// offsets.
//
// Barrier orders all prior CPU stores (descriptor words in DMA memory)
// before the next register write. It must be called before any write that
// arms hardware, such as a tail pointer doorbell.
type Accessor interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
	Barrier()
}

// Doorbell publishes prior descriptor writes and then writes val to off.
func Doorbell(a Accessor, off uint32, val uint32) {
	a.Barrier()
	a.Write32(off, val)
}

// Set ORs bits into the register at off.
func Set(a Accessor, off uint32, bits uint32) {
	a.Write32(off, a.Read32(off)|bits)
}

// Clear removes bits from the register at off.
func Clear(a Accessor, off uint32, bits uint32) {
	a.Write32(off, a.Read32(off)&^bits)
}

// MAC core registers.
const (
	MACConfig       uint32 = 0x0000
	MACPacketFilter uint32 = 0x0008
	MACHashTable0   uint32 = 0x0010
	MACHashTable1   uint32 = 0x0014
	MACAddr0High    uint32 = 0x0300
	MACAddr0Low     uint32 = 0x0304
)

// MACConfig bits.
const (
	MACConfigRE  uint32 = 1 << 0  // receiver enable
	MACConfigTE  uint32 = 1 << 1  // transmitter enable
	MACConfigDM  uint32 = 1 << 13 // full duplex
	MACConfigFES uint32 = 1 << 14 // 100Mb/s when PS is set
	MACConfigPS  uint32 = 1 << 15 // port select (MII)
)

// MACPacketFilter bits.
const (
	FilterPR  uint32 = 1 << 0 // promiscuous
	FilterHUC uint32 = 1 << 1 // hash unicast
	FilterHMC uint32 = 1 << 2 // hash multicast
	FilterPM  uint32 = 1 << 4 // pass all multicast
	FilterDBF uint32 = 1 << 5 // disable broadcast
	FilterHPF uint32 = 1 << 10
)

// MACAddr0High address enable bit.
const MACAddrAE uint32 = 1 << 31

// MMC counter block.
const (
	MMCControl        uint32 = 0x0700
	MMCTxOctetCountGB uint32 = 0x0714
	MMCTxFrameCountGB uint32 = 0x0718
	MMCTxBroadcastG   uint32 = 0x071c
	MMCTxMulticastG   uint32 = 0x0720
	MMCTxUnderflow    uint32 = 0x0748
	MMCTxCarrierError uint32 = 0x0760
	MMCTxFrameCountG  uint32 = 0x0768
	MMCRxFrameCountGB uint32 = 0x0780
	MMCRxOctetCountGB uint32 = 0x0784
	MMCRxBroadcastG   uint32 = 0x078c
	MMCRxMulticastG   uint32 = 0x0790
	MMCRxCRCError     uint32 = 0x0794
	MMCRxUndersizeG   uint32 = 0x07a4
	MMCRxOversizeG    uint32 = 0x07a8
	MMCRxUnicastG     uint32 = 0x07c4
	MMCRxFIFOOverflow uint32 = 0x07d4
	MMCRxWatchdog     uint32 = 0x07dc
)

// MMCControl bits.
const MMCControlCounterReset uint32 = 1 << 0

// DMA registers (channel 0).
const (
	DMAMode          uint32 = 0x1000
	DMASysBusMode    uint32 = 0x1004
	DMAChControl     uint32 = 0x1100
	DMAChTxControl   uint32 = 0x1104
	DMAChRxControl   uint32 = 0x1108
	DMAChTxListHigh  uint32 = 0x1110
	DMAChTxListLow   uint32 = 0x1114
	DMAChRxListHigh  uint32 = 0x1118
	DMAChRxListLow   uint32 = 0x111c
	DMAChTxTail      uint32 = 0x1120
	DMAChRxTail      uint32 = 0x1128
	DMAChTxRingLen   uint32 = 0x112c
	DMAChRxRingLen   uint32 = 0x1130
	DMAChIntrEnable  uint32 = 0x1134
	DMAChCurTxDesc   uint32 = 0x1144
	DMAChCurRxDesc   uint32 = 0x114c
	DMAChStatus      uint32 = 0x1160
	RegisterSpanSize uint32 = 0x1200
)

// DMAMode bits.
const DMAModeSWR uint32 = 1 << 0 // software reset, self clearing

// DMAChTxControl / DMAChRxControl bits.
const (
	DMAChTxST uint32 = 1 << 0 // start transmission
	DMAChRxSR uint32 = 1 << 0 // start receive

	DMAChRxBufSizeShift = 1
	DMAChRxBufSizeMask  = uint32(0x3fff) << DMAChRxBufSizeShift
)

// DMAChStatus and DMAChIntrEnable share bit positions for the interrupt
// sources; the error-bit fields only exist in the status register.
const (
	DMAChTI   uint32 = 1 << 0  // transmit interrupt
	DMAChTPS  uint32 = 1 << 1  // transmit process stopped
	DMAChTBU  uint32 = 1 << 2  // transmit buffer unavailable
	DMAChRI   uint32 = 1 << 6  // receive interrupt
	DMAChRBU  uint32 = 1 << 7  // receive buffer unavailable
	DMAChRPS  uint32 = 1 << 8  // receive process stopped
	DMAChRWT  uint32 = 1 << 9  // receive watchdog timeout
	DMAChETI  uint32 = 1 << 10 // early transmit interrupt
	DMAChERI  uint32 = 1 << 11 // early receive interrupt
	DMAChFBE  uint32 = 1 << 12 // fatal bus error
	DMAChCDE  uint32 = 1 << 13 // context descriptor error
	DMAChAIS  uint32 = 1 << 14 // abnormal interrupt summary
	DMAChNIS  uint32 = 1 << 15 // normal interrupt summary
	DMAChTEB0 uint32 = 1 << 16
	DMAChREB0 uint32 = 1 << 19

	DMAChTEBShift        = 16
	DMAChREBShift        = 19
	DMAChEBMask   uint32 = 0x7
)

// Bus error sub-reason bits inside TEB/REB.
const (
	BusErrRead       uint32 = 1 << 0 // 1 read transfer, 0 write transfer
	BusErrDescriptor uint32 = 1 << 1 // 1 descriptor access, 0 buffer access
	BusErrData       uint32 = 1 << 2 // data transfer error
)

// Interrupt enable groups.
const (
	IntrTx = DMAChTI | DMAChTBU | DMAChTPS | DMAChETI
	IntrRx = DMAChRI | DMAChRBU | DMAChRPS | DMAChRWT | DMAChERI
	// IntrCommon stays enabled while either direction is running.
	IntrCommon = DMAChFBE | DMAChCDE | DMAChAIS | DMAChNIS
)
