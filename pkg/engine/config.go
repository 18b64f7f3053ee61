package engine

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/li"
)

// ChannelConfig is the static configuration of one logical channel number
type ChannelConfig struct {
	Channel uint16 `json:"channel"`
	Content string `json:"content"` // BCCH, PCCH, CCCH, DCCH, PS-DATA, CTCH
	Mode    string `json:"mode"`    // TM, UM, AM
	LISize  int    `json:"li_size"` // 0 (chosen per PDU), 7 or 15
}

// Config holds configuration for the reassembly engine
type Config struct {
	// RetransmissionWindowSeconds bounds duplicate detection: a PDU repeating
	// an SN seen this long ago or less is a retransmission.
	// Default: 5
	RetransmissionWindowSeconds float64 `json:"retransmission_window_seconds"`

	// AssumeHeadersOnly treats PDUs captured without payload as intentional
	// header-only captures instead of length errors.
	// Default: false
	AssumeHeadersOnly bool `json:"assume_headers_only"`

	// ReassemblyEnabled turns SDU reassembly on. When off, every segment is
	// returned on its own.
	// Default: true
	ReassemblyEnabled bool `json:"reassembly_enabled"`

	// MaxLI caps the number of length indicators in one PDU.
	// Default: 16
	MaxLI int `json:"max_li"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `json:"log_level"`

	// Channels fills in mode and LI size for frames that do not carry them
	Channels []ChannelConfig `json:"channels"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		RetransmissionWindowSeconds: 5,
		AssumeHeadersOnly:           false,
		ReassemblyEnabled:           true,
		MaxLI:                       li.DefaultMaxEntries,
		LogLevel:                    "info",
	}
}

// LoadConfig reads a JSON configuration file. Keys absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WithStack(err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.RetransmissionWindowSeconds <= 0 {
		return errors.Errorf("retransmission_window_seconds must be positive, got %v", c.RetransmissionWindowSeconds)
	}
	if c.MaxLI < 1 || c.MaxLI > 64 {
		return errors.Errorf("max_li must be within 1..64, got %d", c.MaxLI)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	seen := make(map[uint16]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.Channel] {
			return errors.Errorf("channel %d configured twice", ch.Channel)
		}
		seen[ch.Channel] = true

		if channel.ParseMode(ch.Mode) == channel.ModeUnknown {
			return errors.Errorf("channel %d: unknown mode %q", ch.Channel, ch.Mode)
		}
		if ch.Content != "" && channel.ParseContentType(ch.Content) == channel.ContentUnknown {
			return errors.Errorf("channel %d: unknown content %q", ch.Channel, ch.Content)
		}
		if _, err := parseLISize(ch.LISize); err != nil {
			return errors.Wrapf(err, "channel %d", ch.Channel)
		}
	}
	return nil
}

// Window returns the retransmission window as a duration
func (c Config) Window() time.Duration {
	return time.Duration(c.RetransmissionWindowSeconds * float64(time.Second))
}

// Table builds the channel table of a validated configuration
func (c Config) Table() *channel.Table {
	infos := make([]channel.Info, 0, len(c.Channels))
	for _, ch := range c.Channels {
		size, _ := parseLISize(ch.LISize)
		infos = append(infos, channel.Info{
			Channel: ch.Channel,
			Content: channel.ParseContentType(ch.Content),
			Mode:    channel.ParseMode(ch.Mode),
			LISize:  size,
		})
	}
	return channel.NewTable(infos)
}

func parseLISize(bits int) (channel.LISize, error) {
	switch bits {
	case 0:
		return channel.LIVariable, nil
	case 7:
		return channel.LI7Bit, nil
	case 15:
		return channel.LI15Bit, nil
	}
	return channel.LIVariable, errors.Errorf("li_size must be 0, 7 or 15, got %d", bits)
}
