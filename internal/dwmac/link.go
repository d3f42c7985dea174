package dwmac

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sophgo/dwmac/internal/regs"
)

// LinkStatus is what the PHY reports.
type LinkStatus struct {
	Up         bool
	Speed      int // Mb/s
	FullDuplex bool
}

func (s LinkStatus) String() string {
	if !s.Up {
		return "down"
	}
	duplex := "half"
	if s.FullDuplex {
		duplex = "full"
	}
	return fmt.Sprintf("up %dMb/s %s-duplex", s.Speed, duplex)
}

// LinkProvider polls the PHY. Poll must not block for long; the engine
// owns the retry policy.
type LinkProvider interface {
	Poll() (LinkStatus, error)
}

type alwaysUp struct{}

func (alwaysUp) Poll() (LinkStatus, error) {
	return LinkStatus{Up: true, Speed: 1000, FullDuplex: true}, nil
}

// pollLink polls once and records the result. The device lock must not be
// held.
func (d *Device) pollLink() (LinkStatus, error) {
	ls, err := d.link.Poll()
	if err != nil {
		return LinkStatus{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Initialized {
		d.applyLinkLocked(ls)
	}
	return ls, nil
}

// awaitLink makes sure the link is up before a transmit. While the last
// known status is up it does not poll. When the link has been lost it
// polls up to LinkRetries times, sleeping between polls without holding
// the device lock.
func (d *Device) awaitLink() error {
	d.mu.Lock()
	up := d.linkStatus.Up
	d.mu.Unlock()
	if up {
		return nil
	}

	ls, err := d.pollLink()
	if err == nil && ls.Up {
		return nil
	}
	for i := 0; i < d.cfg.LinkRetries; i++ {
		time.Sleep(d.cfg.LinkRetryInterval.Duration())
		ls, err = d.pollLink()
		if err == nil && ls.Up {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkDown, err)
	}
	return ErrLinkDown
}

// applyLinkLocked mirrors the negotiated speed and duplex into the MAC.
func (d *Device) applyLinkLocked(ls LinkStatus) {
	if ls == d.linkStatus {
		return
	}
	prev := d.linkStatus
	d.linkStatus = ls
	if !ls.Up {
		if prev.Up {
			d.log.Warn("dwmac: link lost")
		}
		return
	}

	cfg := d.regs.Read32(regs.MACConfig) &^ (regs.MACConfigPS | regs.MACConfigFES | regs.MACConfigDM)
	switch ls.Speed {
	case 10:
		cfg |= regs.MACConfigPS
	case 100:
		cfg |= regs.MACConfigPS | regs.MACConfigFES
	}
	if ls.FullDuplex {
		cfg |= regs.MACConfigDM
	}
	d.regs.Write32(regs.MACConfig, cfg)
	d.log.Info("dwmac: link up", slog.Int("speed", ls.Speed), slog.Bool("full_duplex", ls.FullDuplex))
}

// linkLostLocked marks the link down after the MAC reported carrier loss,
// so the next Transmit polls the provider.
func (d *Device) linkLostLocked() {
	if !d.linkStatus.Up {
		return
	}
	d.linkStatus.Up = false
	d.log.Warn("dwmac: link lost", "reason", "carrier")
}
