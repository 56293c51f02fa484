package main

import (
	"flag"
	"fmt"

	"github.com/MRamiBalles/sand-dropper/internal/platform/config"
)

var (
	configPath = flag.String("config", "", "JSON config file applied over the preset")
	presetName = flag.String("preset", "", "config preset: default, reference or low")
	inputPath  = flag.String("input", "", "rock path file (overrides config)")
	floorMode  = flag.Bool("floor", true, "synthesize a floor two rows below the lowest rock")
	cadence    = flag.Int("cadence", 0, "ticks between spawns")
	stepRate   = flag.Int("step-rate", 0, "simulation ticks per second")
	dbPath     = flag.String("db", "", "SQLite database path")
	noDB       = flag.Bool("no-db", false, "keep events in memory only")
	listenAddr = flag.String("addr", "", "HTTP listen address")
	headless   = flag.Bool("headless", false, "run as fast as possible, print the result and exit")
	stopOnLost = flag.Bool("stop-on-lost", false, "headless: stop at the first grain lost")
	maxTicks   = flag.Int64("max-ticks", 0, "stop after this many ticks")
	linger     = flag.Duration("linger", 0, "how long to keep serving after the run ends")
)

// loadConfig resolves the preset, the config file and then every flag the
// user actually set, in that order.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.Preset(*presetName)
	}
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["preset"] && *configPath != "" {
		return nil, fmt.Errorf("-preset and -config are exclusive; name the preset inside the file")
	}
	if set["input"] {
		cfg.InputPath = *inputPath
	}
	if set["floor"] {
		cfg.Floor = *floorMode
	}
	if set["cadence"] {
		cfg.SpawnCadence = *cadence
	}
	if set["step-rate"] {
		cfg.StepRate = *stepRate
	}
	if set["db"] {
		cfg.DBPath = *dbPath
	}
	if set["addr"] {
		cfg.ListenAddr = *listenAddr
	}
	if set["max-ticks"] {
		cfg.MaxTicks = *maxTicks
	}
	if set["linger"] {
		cfg.Linger = *linger
	}
	if *noDB {
		cfg.DBPath = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
