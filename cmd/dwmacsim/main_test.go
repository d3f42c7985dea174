package main

import (
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-n", "5", "-min", "10", "-max", "20"})
	require.NoError(t, err)
	assert.Equal(t, 5, o.frames)

	for _, args := range [][]string{
		{"-n", "0"},
		{"-min", "4"},
		{"-min", "100", "-max", "50"},
		{"-bogus"},
	} {
		_, err := parseFlags(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestRunLoopback(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "soak.pcap")
	config := filepath.Join(dir, "dwmac.yaml")
	require.NoError(t, os.WriteFile(config, []byte("tx_ring_size: 8\nrx_ring_size: 8\n"), 0o644))

	require.NoError(t, run([]string{"-n", "300", "-fault-every", "100", "-pcap", capture, "-config", config}))

	info, err := os.Stat(capture)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(24))
}

func TestRunRejectsOversizePayload(t *testing.T) {
	assert.Error(t, run([]string{"-n", "1", "-max", "1500"}))
}

func TestSoakVerify(t *testing.T) {
	s := &soak{
		o:       options{minPayload: 16, maxPayload: 64},
		station: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		rng:     rand.New(rand.NewPCG(3, 4)),
	}
	f0, err := s.build(0)
	require.NoError(t, err)
	f2, err := s.build(2)
	require.NoError(t, err)

	require.NoError(t, s.verify(f0))
	require.NoError(t, s.verify(f2))
	assert.Equal(t, 1, s.lost, "frame 1 never arrived")
	assert.Error(t, s.verify(f0), "frames must arrive in order")

	f3, err := s.build(3)
	require.NoError(t, err)
	f3[len(f3)-1] ^= 0xff
	assert.Error(t, s.verify(f3))
}
