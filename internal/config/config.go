// Package config binds the GRIDX_* environment variables to a typed
// Config, using viper the way a JSON-RPC-heavy Go service typically
// layers environment configuration over defaults.
package config

import (
	"path/filepath"

	"github.com/kardianos/osext"
	"github.com/spf13/viper"
)

// Config holds every coordinator-wide tunable.
type Config struct {
	HTTPPort int
	WSPort   int
	DBPath   string
	LogLevel string
	LogFile  string

	CostPerSecond     float64
	MinCost           float64
	MaxCost           float64
	RewardRatio       float64
	DefaultJobTimeout int
	InitialCredits    float64

	LegacyUnauth bool

	CheckInterval    int
	HeartbeatTimeout int
}

// Load reads GRIDX_* environment variables, applying documented defaults
// for anything unset.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("GRIDX")
	v.AutomaticEnv()

	v.SetDefault("HTTP_PORT", 8081)
	v.SetDefault("WS_PORT", 8080)
	v.SetDefault("DB_PATH", defaultDBPath())
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("COST_PER_SECOND", 0.1)
	v.SetDefault("MIN_COST", 0.05)
	v.SetDefault("MAX_COST", 25.0)
	v.SetDefault("REWARD_RATIO", 0.85)
	v.SetDefault("DEFAULT_JOB_TIMEOUT", 60)
	v.SetDefault("INITIAL_CREDITS", 100.0)

	v.SetDefault("LEGACY_UNAUTH", false)

	v.SetDefault("CHECK_INTERVAL", 15)
	v.SetDefault("HEARTBEAT_TIMEOUT", 30)

	return Config{
		HTTPPort: v.GetInt("HTTP_PORT"),
		WSPort:   v.GetInt("WS_PORT"),
		DBPath:   v.GetString("DB_PATH"),
		LogLevel: v.GetString("LOG_LEVEL"),
		LogFile:  v.GetString("LOG_FILE"),

		CostPerSecond:     v.GetFloat64("COST_PER_SECOND"),
		MinCost:           v.GetFloat64("MIN_COST"),
		MaxCost:           v.GetFloat64("MAX_COST"),
		RewardRatio:       v.GetFloat64("REWARD_RATIO"),
		DefaultJobTimeout: v.GetInt("DEFAULT_JOB_TIMEOUT"),
		InitialCredits:    v.GetFloat64("INITIAL_CREDITS"),

		LegacyUnauth: v.GetBool("LEGACY_UNAUTH"),

		CheckInterval:    v.GetInt("CHECK_INTERVAL"),
		HeartbeatTimeout: v.GetInt("HEARTBEAT_TIMEOUT"),
	}
}

// defaultDBPath places the database next to the coordinator binary when
// GRIDX_DB_PATH is not set, falling back to a relative path if the
// executable's location can't be resolved.
func defaultDBPath() string {
	exe, err := osext.Executable()
	if err != nil {
		return "./data/gridx.db"
	}
	return filepath.Join(filepath.Dir(exe), "data", "gridx.db")
}
