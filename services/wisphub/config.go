package wisphub

import (
	"time"
	"wisppos-backend/lib/kvstore"
	"wisppos-backend/lib/restyutil"
)

type PollConfig struct {
	IntervalMs  int `json:"interval_ms"`
	MaxAttempts int `json:"max_attempts"`
}

// Config is the "wisphub" section of config.json5.
type Config struct {
	BaseUrl          string     `json:"base_url"`
	CloudflareBypass bool       `json:"cloudflare_bypass"`
	PrintTarget      string     `json:"print_target"`
	Timezone         string     `json:"timezone"`
	Poll             PollConfig `json:"poll"`
	Endpoints        Endpoints  `json:"endpoints"`
	// DumpDir, when set and debug logging is on, receives a dump of every
	// http exchange with the portal.
	DumpDir string `json:"dump_dir"`
}

func (c Config) Options(store kvstore.Store) (Options, error) {
	opts := Options{
		BaseUrl:          c.BaseUrl,
		Store:            store,
		Endpoints:        c.Endpoints,
		PrintTarget:      c.PrintTarget,
		CloudflareBypass: c.CloudflareBypass,
		PollInterval:     time.Duration(c.Poll.IntervalMs) * time.Millisecond,
		PollAttempts:     c.Poll.MaxAttempts,
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return Options{}, err
		}
		opts.Location = loc
	}
	if c.DumpDir != "" {
		output, err := restyutil.NewFilesystemOutput(c.DumpDir)
		if err != nil {
			return Options{}, err
		}
		opts.InstrumentOutput = output
	}
	return opts, nil
}
