package config

import (
	"flag"
	"os"
	"strconv"
)

type Config struct {
	DataDir  string
	LogLevel int
	Migrate  bool
	Fsync    bool
	Script   string
}

func Parse() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.DataDir, "datadir", envStr("MULLDB_DATADIR", "./data"), "data directory")
	flag.IntVar(&cfg.LogLevel, "log-level", envInt("MULLDB_LOG_LEVEL", 0), "log verbosity (0=off, 1=command trace)")
	flag.BoolVar(&cfg.Migrate, "migrate", false, "migrate WAL file format if needed")
	flag.BoolVar(&cfg.Fsync, "fsync", envBool("MULLDB_FSYNC", true), "enable fsync on WAL writes (disable for speed at risk of data loss on crash)")
	flag.StringVar(&cfg.Script, "script", "", "path to a command script to run instead of reading stdin")
	flag.Parse()
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
