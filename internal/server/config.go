package server

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"scrapdrift/internal/game"
)

type ClaimConfig struct {
	CollectEps  float64 `toml:"collect_eps"`
	MaxRange    float64 `toml:"max_range"`
	ForceBase   float64 `toml:"force_base"`
	ForceGrowth float64 `toml:"force_growth"`
	ForceMax    float64 `toml:"force_max"`
	SpeedBase   float64 `toml:"speed_base"`
	SpeedGrowth float64 `toml:"speed_growth"`
	SpeedMax    float64 `toml:"speed_max"`
	Damping     float64 `toml:"damping"`
}

type Config struct {
	Addr                   string      `toml:"addr"`
	MaxRoomMembers         int         `toml:"max_room_members"`
	SessionTimeoutS        float64     `toml:"session_timeout_s"`
	ReconnectNotifyDelayMs int         `toml:"reconnect_notify_delay_ms"`
	Claim                  ClaimConfig `toml:"claim"`
}

func DefaultConfig() Config {
	t := game.DefaultClaimTuning()
	return Config{
		Addr:                   ":8090",
		MaxRoomMembers:         16,
		SessionTimeoutS:        game.SessionTimeout,
		ReconnectNotifyDelayMs: 150,
		Claim: ClaimConfig{
			CollectEps:  t.CollectEps,
			MaxRange:    t.MaxRange,
			ForceBase:   t.ForceBase,
			ForceGrowth: t.ForceGrowth,
			ForceMax:    t.ForceMax,
			SpeedBase:   t.SpeedBase,
			SpeedGrowth: t.SpeedGrowth,
			SpeedMax:    t.SpeedMax,
			Damping:     t.Damping,
		},
	}
}

// LoadConfig reads a TOML file over the defaults. A missing file is not an
// error; the defaults stand.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Overrides carries optional flag-level overrides on top of the file.
type Overrides struct {
	Addr       *string
	MaxRange   *float64
	CollectEps *float64
}

func (o Overrides) Apply(cfg Config) Config {
	if o.Addr != nil {
		cfg.Addr = *o.Addr
	}
	if o.MaxRange != nil {
		cfg.Claim.MaxRange = *o.MaxRange
	}
	if o.CollectEps != nil {
		cfg.Claim.CollectEps = *o.CollectEps
	}
	return cfg
}

// Tuning converts the claim section into simulation tuning.
func (c ClaimConfig) Tuning() game.ClaimTuning {
	return game.ClaimTuning{
		CollectEps:  c.CollectEps,
		MaxRange:    c.MaxRange,
		ForceBase:   c.ForceBase,
		ForceGrowth: c.ForceGrowth,
		ForceMax:    c.ForceMax,
		SpeedBase:   c.SpeedBase,
		SpeedGrowth: c.SpeedGrowth,
		SpeedMax:    c.SpeedMax,
		Damping:     c.Damping,
	}
}
