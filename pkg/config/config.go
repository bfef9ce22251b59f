// Package config loads the simulation's engine/token/logging settings
// from a YAML file (and environment overrides) via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/depegsim/depegsim/pkg/logger"
	"github.com/depegsim/depegsim/pkg/sim/engine"
)

// Config is the top-level simulation configuration: engine parameters,
// every token to register, and the replicate count for Monte Carlo runs.
type Config struct {
	Engine     engine.Config
	Tokens     []engine.TokenConfig
	Replicates int
}

// Load reads configFile (or discovers "config.yaml" in "." / "./config"
// when configFile is empty) and environment overrides, and returns the
// resulting Config. When configFile is empty and no config.yaml is
// found, that is not an error: the engine's and this package's defaults
// apply. An explicitly named configFile that cannot be read is an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("DEPEGSIM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	def := engine.DefaultConfig()
	cfg := &Config{
		Engine: engine.Config{
			NumBlocks:               v.GetUint64("engine.num_blocks"),
			InitialEthBalance:       v.GetFloat64("engine.initial_eth_balance"),
			PSMExpiryAfterBlock:     v.GetUint64("engine.psm_expiry_after_block"),
			InitialEthYieldPerBlock: v.GetFloat64("engine.initial_eth_yield_per_block"),
			EventsPath:              v.GetString("engine.events_path"),
			PrintStats:              v.GetBool("engine.print_stats"),
			ShuffleSeed:             v.GetInt64("engine.shuffle_seed"),
		},
		Replicates: v.GetInt("montecarlo.replicates"),
	}

	if cfg.Engine.NumBlocks == 0 {
		cfg.Engine.NumBlocks = def.NumBlocks
	}
	if cfg.Engine.InitialEthBalance == 0 {
		cfg.Engine.InitialEthBalance = def.InitialEthBalance
	}
	if cfg.Engine.PSMExpiryAfterBlock == 0 {
		cfg.Engine.PSMExpiryAfterBlock = def.PSMExpiryAfterBlock
	}
	if cfg.Replicates == 0 {
		cfg.Replicates = 1
	}

	var rawTokens []map[string]interface{}
	if err := v.UnmarshalKey("tokens", &rawTokens); err != nil {
		return nil, fmt.Errorf("config: tokens: %w", err)
	}
	for _, raw := range rawTokens {
		tc := engine.TokenConfig{
			Symbol:               asString(raw["symbol"]),
			ReserveEth:           asFloat(raw["reserve_eth"], 100),
			ReserveToken:         asFloat(raw["reserve_token"], 100),
			FeeBps:               asFloat(raw["fee_bps"], 30) / 10000,
			Risk:                 asFloat(raw["risk"], 0.5),
			InitialYieldPerBlock: asFloat(raw["initial_yield_per_block"], 0),
			InitialAgentBalance:  asFloat(raw["initial_agent_balance"], 10),
		}
		if tc.Symbol == "" {
			return nil, fmt.Errorf("config: token entry missing symbol")
		}
		cfg.Tokens = append(cfg.Tokens, tc)
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = []engine.TokenConfig{{
			Symbol: "stETH", ReserveEth: 100, ReserveToken: 100,
			FeeBps: 30.0 / 10000, Risk: 0.5, InitialAgentBalance: 10,
		}}
	}

	return cfg, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// NewLogger builds a *logger.Logger from the "logging.*" viper keys.
func NewLogger(configFile string) *logger.Logger {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("DEPEGSIM")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	level := logger.INFO
	switch strings.ToLower(v.GetString("logging.level")) {
	case "debug":
		level = logger.DEBUG
	case "warn":
		level = logger.WARN
	case "error":
		level = logger.ERROR
	}

	maxSize := v.GetInt64("logging.max_size")
	if maxSize == 0 {
		maxSize = 100 * 1024 * 1024
	}
	maxBackups := v.GetInt("logging.max_backups")
	if maxBackups == 0 {
		maxBackups = 5
	}

	return logger.NewLogger(&logger.Config{
		Level:      level,
		Prefix:     "depegsim",
		UseJSON:    strings.ToLower(v.GetString("logging.format")) == "json",
		LogFile:    v.GetString("logging.log_file"),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	})
}
