// Package config loads the daemon configuration from a TOML file and
// applies defaults.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultPath is read when no file is given explicitly. Its absence is not
// an error.
const DefaultPath = "/etc/phony/phony.toml"

// Config holds every tunable of the daemon. Timeouts are in seconds.
type Config struct {
	Interface         string `toml:"interface"`
	Name              string `toml:"name"`
	Pin               string `toml:"pin"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
	AudioCardIndex    int    `toml:"audio_card_index"`
	MicPlaybackVolume int    `toml:"mic_playback_volume"`
	MicCaptureVolume  int    `toml:"mic_capture_volume"`
	Volume            int    `toml:"volume"`
	LogLevel          string `toml:"log_level"`
	AttachTimeout     int    `toml:"attach_timeout"`
	RingerPort        string `toml:"ringer_port"`
	RingerBaud        int    `toml:"ringer_baud"`
	BusName           string `toml:"bus_name"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		AudioCardIndex:    -1,
		MicPlaybackVolume: 50,
		MicCaptureVolume:  80,
		Volume:            80,
		LogLevel:          "info",
		AttachTimeout:     30,
		RingerBaud:        9600,
		BusName:           "org.littlecraft.Phony",
	}
}

// Load reads path over the defaults. An empty path means DefaultPath, which
// may be missing; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "config: cannot find %s", path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges the rest of the daemon relies on.
func (c Config) Validate() error {
	if n := len(c.Pin); n > 16 || (c.Pin != "" && n < 1) {
		return errors.Errorf("config: pin must be between 1 and 16 characters, got %d", n)
	}
	for name, v := range map[string]int{
		"mic_playback_volume": c.MicPlaybackVolume,
		"mic_capture_volume":  c.MicCaptureVolume,
		"volume":              c.Volume,
	} {
		if v < 0 || v > 100 {
			return errors.Errorf("config: %s must be within 0..100, got %d", name, v)
		}
	}
	if c.VisibilityTimeout < 0 || c.AttachTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	return nil
}

// Visibility is the pairability window; zero means unbounded.
func (c Config) Visibility() time.Duration {
	return time.Duration(c.VisibilityTimeout) * time.Second
}

// AttachWait bounds the modem attachment wait; zero disables the bound.
func (c Config) AttachWait() time.Duration {
	return time.Duration(c.AttachTimeout) * time.Second
}
