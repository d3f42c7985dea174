package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/schollz/progressbar/v3"

	"github.com/sophgo/dwmac/internal/dwmac"
	"github.com/sophgo/dwmac/internal/emu"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/status"
)

const (
	// Ethernet, IPv4 and UDP headers.
	headerOverhead = 14 + 20 + 8
	// A payload starts with its 8-byte sequence number.
	minPayload = 8
)

type soak struct {
	dev     *dwmac.Device
	mac     *emu.MAC
	o       options
	station net.HardwareAddr
	rng     *rand.Rand
	bar     *progressbar.ProgressBar
	buf     []byte

	sent     int
	received int
	lost     int
	faults   int
	next     uint64
}

func newSoak(dev *dwmac.Device, mac *emu.MAC, o options) *soak {
	return &soak{
		dev:     dev,
		mac:     mac,
		o:       o,
		station: dev.Station(),
		rng:     rand.New(rand.NewPCG(1, 2)),
		buf:     make([]byte, 16384),
	}
}

func (s *soak) enableProgress() {
	s.bar = progressbar.Default(int64(s.o.frames), "loopback")
}

func (s *soak) run() error {
	if s.bar != nil {
		defer s.bar.Close()
	}
	for s.sent < s.o.frames {
		frame, err := s.build(uint64(s.sent))
		if err != nil {
			return err
		}
		err = s.dev.Transmit(nil, frame)
		switch {
		case errors.Is(err, dwmac.ErrBackpressure):
			if err := s.drain(); err != nil {
				return err
			}
			continue
		case err != nil:
			return fmt.Errorf("transmit frame %d: %w", s.sent, err)
		}
		s.sent++
		if s.bar != nil {
			_ = s.bar.Add(1)
		}

		if s.o.faultEvery > 0 && s.sent%s.o.faultEvery == 0 {
			s.mac.RaiseFatal(status.Rx, regs.BusErrData)
		}
		if err := s.drain(); err != nil {
			return err
		}
		for {
			b, err := s.dev.Reap()
			if err != nil {
				return err
			}
			if b == nil {
				break
			}
		}
	}
	if err := s.drain(); err != nil {
		return err
	}
	s.lost += s.sent - int(s.next)
	return nil
}

// build serializes a UDP datagram to ourselves carrying seq and a pattern
// derived from it.
func (s *soak) build(seq uint64) ([]byte, error) {
	n := s.o.minPayload + s.rng.IntN(s.o.maxPayload-s.o.minPayload+1)
	payload := make([]byte, n)
	binary.BigEndian.PutUint64(payload, seq)
	for i := 8; i < n; i++ {
		payload[i] = byte(seq) + byte(i)
	}

	eth := &layers.Ethernet{SrcMAC: s.station, DstMAC: s.station, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: 9000, DstPort: 9000}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	out := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(out, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("build frame %d: %w", seq, err)
	}
	return out.Bytes(), nil
}

// drain receives until the ring is empty. Receive faults are expected
// when injected and only counted.
func (s *soak) drain() error {
	for {
		f, err := s.dev.Receive(s.buf)
		var de *dwmac.DeviceError
		switch {
		case errors.Is(err, dwmac.ErrNoFrame):
			return nil
		case errors.As(err, &de) && de.Has(status.FatalBus):
			s.faults++
			continue
		case err != nil:
			return fmt.Errorf("receive: %w", err)
		}
		if err := s.verify(s.buf[:f.Length]); err != nil {
			return err
		}
		s.received++
	}
}

func (s *soak) verify(frame []byte) error {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return fmt.Errorf("received frame is not UDP: %v", pkt.ErrorLayer())
	}
	payload := udp.Payload
	if len(payload) < minPayload {
		return fmt.Errorf("received payload of %d bytes", len(payload))
	}
	seq := binary.BigEndian.Uint64(payload)
	if seq < s.next {
		return fmt.Errorf("frame %d received after frame %d", seq, s.next-1)
	}
	for i := 8; i < len(payload); i++ {
		if payload[i] != byte(seq)+byte(i) {
			return fmt.Errorf("frame %d corrupted at payload byte %d", seq, i)
		}
	}
	s.lost += int(seq - s.next)
	s.next = seq + 1
	return nil
}
