package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Listen          string
	Owner           string
	PGDSN           string
	TradesOut       string
	FeeMillionth    uint64
	DeviationBps    uint64
	VolumeWindow    time.Duration
	OracleRPC       string
	OracleBindings  []string
	OracleInterval  time.Duration
	LogLevel        string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROPAMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8547")
	v.SetDefault("trades-out", "./data/trades.jsonl")
	v.SetDefault("fee-millionth", uint64(0))
	v.SetDefault("deviation-bps", uint64(0))
	v.SetDefault("volume-window", 5*time.Minute)
	v.SetDefault("oracle-interval", 15*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Listen:         v.GetString("listen"),
		Owner:          v.GetString("owner"),
		PGDSN:          v.GetString("pg-dsn"),
		TradesOut:      v.GetString("trades-out"),
		FeeMillionth:   v.GetUint64("fee-millionth"),
		DeviationBps:   v.GetUint64("deviation-bps"),
		VolumeWindow:   v.GetDuration("volume-window"),
		OracleRPC:      v.GetString("oracle-rpc"),
		OracleBindings: getStringSlice(v, "oracle-binding"),
		OracleInterval: v.GetDuration("oracle-interval"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
