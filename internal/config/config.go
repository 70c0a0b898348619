package config

import (
	"os"
	"strconv"
)

type Config struct {
	ListenAddr       string
	DBPath           string
	TilePath         string
	TileLayersFile   string
	TileOnline       bool
	TileRatePerSec   float64
	AutosaveSchedule string
	ClusterBuffer    float64
	RegionBuffer     float64
	LogLevel         string
	LogFormat        string
	LogFile          string
	TestMode         bool
}

func Load() *Config {
	return &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "/data/wardmap.db"),
		TilePath:         getEnv("TILE_PATH", "/data/tiles"),
		TileLayersFile:   getEnv("TILE_LAYERS_FILE", ""),
		TileOnline:       getBool("TILE_ONLINE_FALLBACK", true),
		TileRatePerSec:   getFloat("TILE_RATE_PER_SEC", 10),
		AutosaveSchedule: getEnv("AUTOSAVE_SCHEDULE", "@every 1m"),
		ClusterBuffer:    getFloat("CLUSTER_BUFFER", 0.001),
		RegionBuffer:     getFloat("REGION_BUFFER", 0.0015),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LogFile:          getEnv("LOG_FILE", ""),
		TestMode:         os.Getenv("WARDMAP_TEST_MODE") == "1",
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getBool falls back to defaultVal when the variable is unset or unparseable.
func getBool(key string, defaultVal bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
