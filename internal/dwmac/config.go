package dwmac

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sophgo/dwmac/internal/dma"
)

// Duration is a time.Duration that unmarshals from strings like "50ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config holds the engine geometry and retry budgets.
type Config struct {
	// TxRingSize and RxRingSize are descriptor counts. One descriptor per
	// ring is kept empty, so at most size-1 frames are in flight.
	TxRingSize int `yaml:"tx_ring_size"`
	RxRingSize int `yaml:"rx_ring_size"`
	// BufferSize is the size of every packet buffer.
	BufferSize int `yaml:"buffer_size"`
	// MaxMappings bounds concurrently mapped buffers in a dma.Space built
	// from this config; New does not read it. Zero means unbounded.
	MaxMappings int `yaml:"max_mappings"`
	// TransferWidth is the copy unit in bytes: 1, 2 or 4.
	TransferWidth int `yaml:"transfer_width"`
	// LinkRetries and LinkRetryInterval bound the wait for a lost link.
	LinkRetries       int      `yaml:"link_retries"`
	LinkRetryInterval Duration `yaml:"link_retry_interval"`
	// ResetPollLimit bounds polling for the self-clearing software reset.
	ResetPollLimit int `yaml:"reset_poll_limit"`
	// StationAddress overrides the address programmed at Initialize.
	StationAddress string `yaml:"station_address"`
}

// DefaultConfig returns the geometry used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TxRingSize:        64,
		RxRingSize:        64,
		BufferSize:        1536,
		TransferWidth:     4,
		LinkRetries:       20,
		LinkRetryInterval: Duration(50 * time.Millisecond),
		ResetPollLimit:    1000,
	}
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for impossible geometry.
func (c Config) Validate() error {
	if c.TxRingSize < 2 || c.RxRingSize < 2 {
		return fmt.Errorf("dwmac: ring sizes must be at least 2 (tx=%d rx=%d)", c.TxRingSize, c.RxRingSize)
	}
	if c.TxRingSize > 1024 || c.RxRingSize > 1024 {
		return fmt.Errorf("dwmac: ring sizes above 1024 are not supported (tx=%d rx=%d)", c.TxRingSize, c.RxRingSize)
	}
	if c.BufferSize < minFrameSize || c.BufferSize > maxBufferSize {
		return fmt.Errorf("dwmac: buffer size %d outside [%d, %d]", c.BufferSize, minFrameSize, maxBufferSize)
	}
	if !dma.Width(c.TransferWidth).Valid() {
		return fmt.Errorf("dwmac: transfer width %d must be 1, 2 or 4", c.TransferWidth)
	}
	if c.LinkRetries < 0 || c.ResetPollLimit <= 0 {
		return fmt.Errorf("dwmac: retry budgets must be positive")
	}
	if c.StationAddress != "" {
		if _, err := parseStation(c.StationAddress); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) width() dma.Width {
	return dma.Width(c.TransferWidth)
}

func parseStation(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("dwmac: station address: %w", err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("dwmac: station address %q is not an EUI-48", s)
	}
	if mac[0]&1 != 0 {
		return nil, fmt.Errorf("dwmac: station address %s is a multicast address", mac)
	}
	return mac, nil
}
