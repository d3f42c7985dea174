package dwmac_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophgo/dwmac/internal/dwmac"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/rxfilter"
)

var (
	group     = net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}
	broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

func collidingGroup(t *testing.T, addr net.HardwareAddr) net.HardwareAddr {
	t.Helper()
	want := rxfilter.HashBin(addr)
	for i := 0; i < 1<<16; i++ {
		c := net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, byte(i >> 8), byte(i)}
		if !bytes.Equal(c, addr) && rxfilter.HashBin(c) == want {
			return c
		}
	}
	t.Fatal("no colliding multicast address found")
	return nil
}

func TestDefaultFilter(t *testing.T) {
	r := newRig(t, rigOptions{})
	assert.True(t, r.mac.Inject(ethFrame(t, station, peer, 60)))
	assert.True(t, r.mac.Inject(ethFrame(t, broadcast, peer, 60)))
	assert.False(t, r.mac.Inject(ethFrame(t, peer, station, 60)))
	assert.False(t, r.mac.Inject(ethFrame(t, group, peer, 60)))

	mode, mcast := r.dev.Filter()
	assert.Equal(t, rxfilter.DefaultMode, mode)
	assert.Empty(t, mcast)
}

func TestMulticastFilter(t *testing.T) {
	r := newRig(t, rigOptions{})
	require.NoError(t, r.dev.SetFilters(rxfilter.Unicast|rxfilter.Multicast, []net.HardwareAddr{group}))

	snap := r.mac.Snapshot(regs.MACPacketFilter, regs.MACHashTable0, regs.MACHashTable1)
	table := rxfilter.HashTable([]net.HardwareAddr{group})
	assert.Equal(t, regs.FilterHMC|regs.FilterDBF, snap[regs.MACPacketFilter])
	assert.Equal(t, table[0], snap[regs.MACHashTable0])
	assert.Equal(t, table[1], snap[regs.MACHashTable1])

	assert.False(t, r.mac.Inject(ethFrame(t, broadcast, peer, 60)), "broadcast disabled")

	// A colliding group passes the hash in hardware and is dropped in
	// software.
	require.True(t, r.mac.Inject(ethFrame(t, collidingGroup(t, group), peer, 60)))
	require.True(t, r.mac.Inject(ethFrame(t, group, peer, 61)))

	f, err := r.dev.Receive(make([]byte, 1536))
	require.NoError(t, err)
	assert.Equal(t, group, f.Dst)
	assert.Equal(t, 61, f.Length)

	stats, err := r.dev.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats[dwmac.RxDroppedFrames])
	assert.Equal(t, uint64(2), stats[dwmac.RxTotalFrames])
	assert.Equal(t, uint64(2), stats[dwmac.RxMulticastFrames])
}

func TestFilterMissSkippedBeforeSizeCheck(t *testing.T) {
	r := newRig(t, rigOptions{})
	require.NoError(t, r.dev.SetFilters(rxfilter.Unicast|rxfilter.Multicast, []net.HardwareAddr{group}))

	require.True(t, r.mac.Inject(ethFrame(t, collidingGroup(t, group), peer, 128)))
	_, err := r.dev.Receive(make([]byte, 60))
	assert.ErrorIs(t, err, dwmac.ErrNoFrame, "a frame the exact filter rejects never asks for a larger buffer")

	require.True(t, r.mac.Inject(ethFrame(t, group, peer, 128)))
	_, err = r.dev.Receive(make([]byte, 60))
	var small *dwmac.BufferTooSmallError
	require.ErrorAs(t, err, &small)
	assert.Equal(t, 128, small.Required)

	f, err := r.dev.Receive(make([]byte, 128))
	require.NoError(t, err)
	assert.Equal(t, group, f.Dst)

	stats, err := r.dev.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats[dwmac.RxDroppedFrames])
}

func TestPromiscuousFilter(t *testing.T) {
	r := newRig(t, rigOptions{})
	require.NoError(t, r.dev.SetFilters(rxfilter.Promiscuous, nil))
	for _, dst := range []net.HardwareAddr{station, peer, group, broadcast} {
		require.True(t, r.mac.Inject(ethFrame(t, dst, peer, 60)))
		f, err := r.dev.Receive(make([]byte, 1536))
		require.NoError(t, err)
		assert.Equal(t, dst, f.Dst)
	}
}

func TestSetFiltersValidation(t *testing.T) {
	r := newRig(t, rigOptions{})
	err := r.dev.SetFilters(rxfilter.Multicast, []net.HardwareAddr{peer})
	assert.ErrorIs(t, err, dwmac.ErrInvalidFrame)

	mode, _ := r.dev.Filter()
	assert.Equal(t, rxfilter.DefaultMode, mode, "a rejected filter leaves the old one active")
}

func TestSetStationAddress(t *testing.T) {
	r := newRig(t, rigOptions{noInit: true})
	assert.ErrorIs(t, r.dev.SetStationAddress(peer), dwmac.ErrInvalidState)

	require.NoError(t, r.dev.Start())
	require.NoError(t, r.dev.SetStationAddress(peer))
	require.NoError(t, r.dev.Initialize())
	assert.Equal(t, peer, r.dev.Station())
	assert.True(t, r.mac.Inject(ethFrame(t, peer, station, 60)))
	assert.False(t, r.mac.Inject(ethFrame(t, station, peer, 60)))

	next := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x07}
	require.NoError(t, r.dev.SetStationAddress(next))
	snap := r.mac.Snapshot(regs.MACAddr0High, regs.MACAddr0Low)
	assert.Equal(t, regs.MACAddrAE|0x0700, snap[regs.MACAddr0High])
	assert.Equal(t, uint32(0x00000002), snap[regs.MACAddr0Low])

	// The frame queued for the old address is now filtered in software.
	_, err := r.dev.Receive(make([]byte, 1536))
	assert.ErrorIs(t, err, dwmac.ErrNoFrame)

	assert.ErrorIs(t, r.dev.SetStationAddress(group), dwmac.ErrInvalidFrame)
	assert.ErrorIs(t, r.dev.SetStationAddress(next[:4]), dwmac.ErrInvalidFrame)
}
