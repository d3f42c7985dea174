package dwmac_test

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophgo/dwmac/internal/dma"
	"github.com/sophgo/dwmac/internal/dwmac"
	"github.com/sophgo/dwmac/internal/emu"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/ring"
)

var (
	station = net.HardwareAddr{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
	peer    = net.HardwareAddr{0x02, 0x00, 0x00, 0x11, 0x22, 0x33}
)

type rig struct {
	dev   *dwmac.Device
	mac   *emu.MAC
	space *dma.Space
	link  *emu.Link
}

type rigOptions struct {
	cfg         func(*dwmac.Config)
	maxMappings int
	mac         []emu.Option
	dev         []dwmac.Option
	noInit      bool
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newRig(t *testing.T, o rigOptions) *rig {
	t.Helper()
	cfg := dwmac.DefaultConfig()
	cfg.TxRingSize = 8
	cfg.RxRingSize = 8
	cfg.LinkRetries = 3
	cfg.LinkRetryInterval = dwmac.Duration(time.Millisecond)
	if o.cfg != nil {
		o.cfg(&cfg)
	}

	space := dma.NewSpace(0, o.maxMappings)
	mac := emu.New(space, append([]emu.Option{emu.WithLogger(quietLogger())}, o.mac...)...)
	link := emu.NewLink(emu.Up)
	opts := append([]dwmac.Option{dwmac.WithLogger(quietLogger()), dwmac.WithStationAddress(station)}, o.dev...)
	dev, err := dwmac.New(cfg, mac, space, link, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	if !o.noInit {
		require.NoError(t, dev.Start())
		require.NoError(t, dev.Initialize())
	}
	return &rig{dev: dev, mac: mac, space: space, link: link}
}

// ethFrame builds a frame of exactly size bytes.
func ethFrame(t *testing.T, dst, src net.HardwareAddr, size int) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeIPv4}
	payload := make([]byte, size-14)
	for i := range payload {
		payload[i] = byte(i)
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)))
	require.Len(t, buf.Bytes(), size)
	return buf.Bytes()
}

func TestLifecycle(t *testing.T) {
	r := newRig(t, rigOptions{noInit: true})
	dev := r.dev
	assert.Equal(t, dwmac.Stopped, dev.State())

	assert.ErrorIs(t, dev.Stop(), dwmac.ErrInvalidState)
	assert.ErrorIs(t, dev.Initialize(), dwmac.ErrInvalidState)
	assert.ErrorIs(t, dev.Shutdown(), dwmac.ErrInvalidState)

	require.NoError(t, dev.Start())
	assert.Equal(t, dwmac.Started, dev.State())
	assert.ErrorIs(t, dev.Start(), dwmac.ErrInvalidState)
	assert.ErrorIs(t, dev.Transmit(nil, ethFrame(t, peer, station, 60)), dwmac.ErrInvalidState)
	_, err := dev.Receive(make([]byte, 1536))
	assert.ErrorIs(t, err, dwmac.ErrInvalidState)
	_, err = dev.Reap()
	assert.ErrorIs(t, err, dwmac.ErrInvalidState)
	_, _, err = dev.GetStatus()
	assert.ErrorIs(t, err, dwmac.ErrInvalidState)

	require.NoError(t, dev.Initialize())
	assert.Equal(t, dwmac.Initialized, dev.State())
	assert.Equal(t, 2+7, r.space.Outstanding(), "two descriptor rings plus the posted receive buffers")

	require.NoError(t, dev.Shutdown())
	assert.Equal(t, dwmac.Started, dev.State())
	assert.Zero(t, r.space.Outstanding())

	require.NoError(t, dev.Initialize())
	require.NoError(t, dev.Stop())
	assert.Equal(t, dwmac.Stopped, dev.State())
	assert.Zero(t, r.space.Outstanding())

	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Start(), dwmac.ErrInvalidState)
}

func TestNewValidatesConfig(t *testing.T) {
	space := dma.NewSpace(0, 0)
	cfg := dwmac.DefaultConfig()
	cfg.TxRingSize = 1
	_, err := dwmac.New(cfg, emu.New(space), space, nil)
	assert.Error(t, err)

	_, err = dwmac.New(dwmac.DefaultConfig(), nil, space, nil)
	assert.Error(t, err)
}

func TestStationFromController(t *testing.T) {
	space := dma.NewSpace(0, 0)
	mac := emu.New(space, emu.WithLogger(quietLogger()))
	mac.SetStation(peer)
	dev, err := dwmac.New(dwmac.DefaultConfig(), mac, space, nil, dwmac.WithLogger(quietLogger()))
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, dev.Start())
	assert.Equal(t, peer, dev.Station())
}

func TestInitializeResetTimeout(t *testing.T) {
	r := newRig(t, rigOptions{noInit: true, mac: []emu.Option{emu.WithResetDelay(-1)}})
	require.NoError(t, r.dev.Start())

	err := r.dev.Initialize()
	assert.ErrorIs(t, err, dwmac.ErrDeviceFault)
	assert.Equal(t, dwmac.Started, r.dev.State())
	assert.Zero(t, r.space.Outstanding())
}

func TestInitializeWaitsForReset(t *testing.T) {
	r := newRig(t, rigOptions{noInit: true, mac: []emu.Option{emu.WithResetDelay(5)}})
	require.NoError(t, r.dev.Start())
	require.NoError(t, r.dev.Initialize())
}

func TestDoorbellsAreFenced(t *testing.T) {
	r := newRig(t, rigOptions{mac: []emu.Option{emu.WithLoopback()}})
	for i := 0; i < 20; i++ {
		require.NoError(t, r.dev.Transmit(nil, ethFrame(t, station, peer, 64)))
		_, err := r.dev.Receive(make([]byte, 1536))
		require.NoError(t, err)
	}
	total, unfenced := r.mac.Doorbells()
	assert.Greater(t, total, 40)
	assert.Zero(t, unfenced)
}

func TestLinkSpeedProgrammed(t *testing.T) {
	r := newRig(t, rigOptions{noInit: true})
	r.link.Set(dwmac.LinkStatus{Up: true, Speed: 100})
	require.NoError(t, r.dev.Start())
	require.NoError(t, r.dev.Initialize())

	cfg := r.mac.Snapshot(regs.MACConfig)[regs.MACConfig]
	assert.Equal(t, regs.MACConfigPS|regs.MACConfigFES, cfg&(regs.MACConfigPS|regs.MACConfigFES|regs.MACConfigDM))
	assert.Equal(t, regs.MACConfigRE|regs.MACConfigTE, cfg&(regs.MACConfigRE|regs.MACConfigTE))

	// The new speed is picked up when a carrier loss forces a poll.
	r.link.Set(emu.Up)
	r.mac.SetTxErrors(ring.Des3TxNC)
	require.NoError(t, r.dev.Transmit(nil, ethFrame(t, peer, station, 60)))
	_, _, err := r.dev.GetStatus()
	require.NoError(t, err)
	require.NoError(t, r.dev.Transmit(nil, ethFrame(t, peer, station, 60)))
	cfg = r.mac.Snapshot(regs.MACConfig)[regs.MACConfig]
	assert.Equal(t, regs.MACConfigDM, cfg&(regs.MACConfigPS|regs.MACConfigFES|regs.MACConfigDM))
}
