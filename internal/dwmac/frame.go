package dwmac

import (
	"fmt"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

const (
	// HeaderSize is the length of an untagged Ethernet header.
	HeaderSize = header.EthernetMinimumSize

	minFrameSize  = 60
	maxBufferSize = 0x3fff
)

// Header asks Transmit to prepend an Ethernet header to the payload. A nil
// Src selects the station address.
type Header struct {
	Src      net.HardwareAddr
	Dst      net.HardwareAddr
	Protocol uint16
}

// Frame describes a received frame. The bytes themselves are in the
// caller's buffer.
type Frame struct {
	Length     int
	HeaderSize int
	Src        net.HardwareAddr
	Dst        net.HardwareAddr
	Protocol   uint16
}

func (f Frame) String() string {
	return fmt.Sprintf("%d bytes %s -> %s type %#04x", f.Length, f.Src, f.Dst, f.Protocol)
}

func encodeHeader(b []byte, h *Header, station net.HardwareAddr) error {
	if len(h.Dst) != 6 {
		return fmt.Errorf("%w: destination address must be 6 bytes", ErrInvalidFrame)
	}
	src := h.Src
	if src == nil {
		src = station
	}
	if len(src) != 6 {
		return fmt.Errorf("%w: source address must be 6 bytes", ErrInvalidFrame)
	}
	header.Ethernet(b).Encode(&header.EthernetFields{
		SrcAddr: tcpip.LinkAddress(src),
		DstAddr: tcpip.LinkAddress(h.Dst),
		Type:    tcpip.NetworkProtocolNumber(h.Protocol),
	})
	return nil
}

func parseFrame(b []byte) Frame {
	f := Frame{Length: len(b)}
	if len(b) < HeaderSize {
		return f
	}
	eth := header.Ethernet(b)
	f.HeaderSize = HeaderSize
	f.Src = net.HardwareAddr(eth.SourceAddress())
	f.Dst = net.HardwareAddr(eth.DestinationAddress())
	f.Protocol = uint16(eth.Type())
	return f
}

func isBroadcast(addr []byte) bool {
	if len(addr) < 6 {
		return false
	}
	for _, b := range addr[:6] {
		if b != 0xff {
			return false
		}
	}
	return true
}

func isMulticast(addr []byte) bool {
	return len(addr) >= 6 && addr[0]&1 != 0
}
