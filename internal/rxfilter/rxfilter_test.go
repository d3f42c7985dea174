package rxfilter

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	station = net.HardwareAddr{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
	other   = net.HardwareAddr{0x02, 0x00, 0x00, 0x11, 0x22, 0x33}
	group   = net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}
)

func frameTo(dst net.HardwareAddr) []byte {
	f := make([]byte, 60)
	copy(f, dst)
	copy(f[6:], other)
	f[12], f[13] = 0x08, 0x00
	return f
}

// collidingGroup finds a multicast address other than addr in the same
// hash bin.
func collidingGroup(t *testing.T, addr net.HardwareAddr) net.HardwareAddr {
	t.Helper()
	want := HashBin(addr)
	for i := 0; i < 1<<16; i++ {
		c := net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, byte(i >> 8), byte(i)}
		if !bytes.Equal(c, addr) && HashBin(c) == want {
			return c
		}
	}
	t.Fatal("no colliding multicast address found")
	return nil
}

func TestCompileModes(t *testing.T) {
	cases := []struct {
		name   string
		mode   Mode
		mcast  []net.HardwareAddr
		accept []net.HardwareAddr
		reject []net.HardwareAddr
	}{
		{
			name:   "Default",
			mode:   DefaultMode,
			accept: []net.HardwareAddr{station, broadcastAddr},
			reject: []net.HardwareAddr{other, group},
		},
		{
			name:   "UnicastOnly",
			mode:   Unicast,
			accept: []net.HardwareAddr{station},
			reject: []net.HardwareAddr{broadcastAddr, other},
		},
		{
			name:   "MulticastList",
			mode:   Unicast | Multicast,
			mcast:  []net.HardwareAddr{group},
			accept: []net.HardwareAddr{station, group},
			reject: []net.HardwareAddr{{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}, broadcastAddr},
		},
		{
			name:   "AllMulticast",
			mode:   AllMulticast,
			accept: []net.HardwareAddr{group, broadcastAddr},
			reject: []net.HardwareAddr{station},
		},
		{
			name:   "Promiscuous",
			mode:   Promiscuous,
			accept: []net.HardwareAddr{station, other, group, broadcastAddr},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Compile(station, tc.mode, tc.mcast)
			require.NoError(t, err)
			for _, a := range tc.accept {
				assert.True(t, f.Match(frameTo(a)), "expected accept of %v", a)
			}
			for _, a := range tc.reject {
				assert.False(t, f.Match(frameTo(a)), "expected reject of %v", a)
			}
		})
	}
}

func TestShortFrameRejected(t *testing.T) {
	f, err := Compile(station, DefaultMode, nil)
	require.NoError(t, err)
	assert.False(t, f.Match(station[:4]))
}

func TestCompileValidation(t *testing.T) {
	_, err := Compile(station[:5], DefaultMode, nil)
	assert.Error(t, err)
	_, err = Compile(station, Multicast, []net.HardwareAddr{other})
	assert.Error(t, err, "unicast address in multicast list")

	many := make([]net.HardwareAddr, MaxMulticast+1)
	for i := range many {
		many[i] = net.HardwareAddr{0x01, 0, 0x5e, 0, 0, byte(i)}
	}
	_, err = Compile(station, Multicast, many)
	assert.Error(t, err)
}

func TestHashTable(t *testing.T) {
	table := HashTable([]net.HardwareAddr{group})
	assert.True(t, HashHit(table, group))
	bin := HashBin(group)
	assert.Less(t, bin, uint(64))
	assert.Equal(t, uint32(1)<<(bin&31), table[bin>>5])

	// The hash lets a colliding group through; the exact filter does not.
	c := collidingGroup(t, group)
	assert.True(t, HashHit(table, c))
	f, err := Compile(station, Multicast, []net.HardwareAddr{group})
	require.NoError(t, err)
	assert.False(t, f.Match(frameTo(c)))
	assert.True(t, f.Match(frameTo(group)))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "unicast|broadcast", DefaultMode.String())
	assert.Equal(t, "none", Mode(0).String())
}
