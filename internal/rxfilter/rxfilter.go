// Package rxfilter builds receive filters for the MAC.
//
// The controller filters multicast through a 64-bin hash, which lets
// colliding groups through. The exact filter compiled here runs on frames
// after they land in host memory and drops those collisions.
package rxfilter

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/bits"
	"net"
	"strings"

	"golang.org/x/net/bpf"
)

// Mode selects which destination classes are accepted.
type Mode uint8

const (
	Unicast Mode = 1 << iota
	Multicast
	Broadcast
	Promiscuous
	AllMulticast
)

// DefaultMode accepts frames for the station and broadcast.
const DefaultMode = Unicast | Broadcast

func (m Mode) String() string {
	var parts []string
	for _, f := range []struct {
		bit  Mode
		name string
	}{
		{Unicast, "unicast"},
		{Multicast, "multicast"},
		{Broadcast, "broadcast"},
		{Promiscuous, "promiscuous"},
		{AllMulticast, "all-multicast"},
	} {
		if m&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MaxMulticast bounds the multicast list accepted by Compile.
const MaxMulticast = 64

const acceptLen = 0x40000

var broadcastAddr = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Filter is a compiled exact receive filter.
type Filter struct {
	mode  Mode
	prog  []bpf.Instruction
	vm    *bpf.VM
	mcast []net.HardwareAddr
}

// Compile builds the filter for station with the given mode and multicast
// list. The list is ignored unless mode includes Multicast.
func Compile(station net.HardwareAddr, mode Mode, mcast []net.HardwareAddr) (*Filter, error) {
	if len(station) != 6 {
		return nil, fmt.Errorf("rxfilter: station address must be 6 bytes, got %d", len(station))
	}
	if len(mcast) > MaxMulticast {
		return nil, fmt.Errorf("rxfilter: %d multicast addresses exceeds limit of %d", len(mcast), MaxMulticast)
	}
	for _, addr := range mcast {
		if len(addr) != 6 {
			return nil, fmt.Errorf("rxfilter: multicast address %v must be 6 bytes", addr)
		}
		if addr[0]&1 == 0 {
			return nil, fmt.Errorf("rxfilter: %v is not a multicast address", addr)
		}
	}

	var prog []bpf.Instruction
	if mode&Promiscuous != 0 {
		prog = append(prog, bpf.RetConstant{Val: acceptLen})
	} else {
		if mode&Unicast != 0 {
			prog = append(prog, matchDst(station)...)
		}
		if mode&Broadcast != 0 {
			prog = append(prog, matchDst(broadcastAddr)...)
		}
		switch {
		case mode&AllMulticast != 0:
			prog = append(prog,
				bpf.LoadAbsolute{Off: 0, Size: 1},
				bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: 1},
				bpf.JumpIf{Cond: bpf.JumpEqual, Val: 1, SkipFalse: 1},
				bpf.RetConstant{Val: acceptLen},
			)
		case mode&Multicast != 0:
			for _, addr := range mcast {
				prog = append(prog, matchDst(addr)...)
			}
		}
		prog = append(prog, bpf.RetConstant{Val: 0})
	}

	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("rxfilter: compile: %w", err)
	}
	f := &Filter{mode: mode, prog: prog, vm: vm}
	if mode&Multicast != 0 {
		for _, addr := range mcast {
			f.mcast = append(f.mcast, append(net.HardwareAddr(nil), addr...))
		}
	}
	return f, nil
}

// matchDst returns instructions accepting frames whose destination is addr
// and falling through otherwise.
func matchDst(addr net.HardwareAddr) []bpf.Instruction {
	hi := binary.BigEndian.Uint32(addr[0:4])
	lo := uint32(binary.BigEndian.Uint16(addr[4:6]))
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: hi, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 4, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: lo, SkipFalse: 1},
		bpf.RetConstant{Val: acceptLen},
	}
}

// Match reports whether frame passes the filter.
func (f *Filter) Match(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}

// Mode returns the mode the filter was compiled with.
func (f *Filter) Mode() Mode {
	return f.mode
}

// Multicast returns the multicast list in effect.
func (f *Filter) Multicast() []net.HardwareAddr {
	return f.mcast
}

// Program returns the compiled BPF program.
func (f *Filter) Program() []bpf.Instruction {
	return f.prog
}

// HashBin returns the 6-bit hash table bin the controller uses for addr:
// the upper six bits of the bit-reversed CRC-32 of the address.
func HashBin(addr net.HardwareAddr) uint {
	return uint(bits.Reverse32(crc32.ChecksumIEEE(addr)) >> 26)
}

// HashTable returns the two 32-bit hash table register values for mcast.
func HashTable(mcast []net.HardwareAddr) [2]uint32 {
	var table [2]uint32
	for _, addr := range mcast {
		bin := HashBin(addr)
		table[bin>>5] |= 1 << (bin & 31)
	}
	return table
}

// HashHit reports whether addr lands in a set bin of table.
func HashHit(table [2]uint32, addr net.HardwareAddr) bool {
	bin := HashBin(addr)
	return table[bin>>5]&(1<<(bin&31)) != 0
}
