package dwmac

import (
	"fmt"
	"net"

	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/rxfilter"
)

// SetFilters selects which destination classes are received. Multicast
// groups go into the controller's hash table; frames that only pass
// because of a hash collision are dropped in software.
func (d *Device) SetFilters(mode rxfilter.Mode, mcast []net.HardwareAddr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return stateError("set filters", d.state)
	}
	if err := d.applyFilterLocked(mode, mcast); err != nil {
		return err
	}
	d.log.Info("dwmac: receive filter updated", "mode", mode.String(), "multicast", len(mcast))
	return nil
}

// Filter returns the active receive mode and multicast list.
func (d *Device) Filter() (rxfilter.Mode, []net.HardwareAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]net.HardwareAddr, len(d.mcast))
	copy(out, d.mcast)
	return d.filterMode, out
}

func (d *Device) applyFilterLocked(mode rxfilter.Mode, mcast []net.HardwareAddr) error {
	f, err := rxfilter.Compile(d.station, mode, mcast)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	var pf uint32
	var table [2]uint32
	switch {
	case mode&rxfilter.Promiscuous != 0:
		pf |= regs.FilterPR
	case mode&rxfilter.AllMulticast != 0:
		pf |= regs.FilterPM
	case mode&rxfilter.Multicast != 0 && len(mcast) > 0:
		pf |= regs.FilterHMC
		table = rxfilter.HashTable(mcast)
	}
	if mode&(rxfilter.Broadcast|rxfilter.Promiscuous) == 0 {
		pf |= regs.FilterDBF
	}
	d.regs.Write32(regs.MACHashTable0, table[0])
	d.regs.Write32(regs.MACHashTable1, table[1])
	d.regs.Write32(regs.MACPacketFilter, pf)

	d.log.Debug("dwmac: receive filter programmed",
		"mode", mode.String(), "multicast", len(mcast), "hash", table, "bpf_instructions", len(f.Program()))
	d.filter = f
	d.filterMode = mode
	d.mcast = f.Multicast()
	return nil
}

// SetStationAddress changes the unicast address the MAC answers to. It is
// allowed once the device is started.
func (d *Device) SetStationAddress(mac net.HardwareAddr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Stopped {
		return stateError("set station address", d.state)
	}
	if len(mac) != 6 {
		return fmt.Errorf("%w: station address must be 6 bytes, got %d", ErrInvalidFrame, len(mac))
	}
	if isMulticast(mac) {
		return fmt.Errorf("%w: station address %s is a group address", ErrInvalidFrame, mac)
	}
	d.station = append(net.HardwareAddr(nil), mac...)
	d.programStationLocked()
	if d.state == Initialized {
		if err := d.applyFilterLocked(d.filterMode, d.mcast); err != nil {
			return err
		}
	}
	d.log.Info("dwmac: station address set", "station", mac.String())
	return nil
}
