package shared

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv       string
	HTTPAddr     string
	MetricsAddr  string
	MySQLDSN     string
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	GeocoderBase  string
	GeocoderEmail string
	OEmbedRPS    int
	GeocoderRPS  int
	Workers      int
	LinksFile    string
	DedupeRadius float64
	CacheTTL     time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	atof := func(k string, def float64) float64 {
		if v := os.Getenv(k); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return def
	}
	return Config{
		AppEnv:       env("APP_ENV", "prod"),
		HTTPAddr:     env("HTTP_ADDR", ":8080"),
		MetricsAddr:  env("METRICS_ADDR", ":9100"),
		MySQLDSN:     env("MYSQL_DSN", "root:root@tcp(localhost:3306)/bitemap?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		RedisDB:      atoi("REDIS_DB", 0),
		RedisPass:    env("REDIS_PASSWORD", ""),
		GeocoderBase:  env("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeocoderEmail: env("GEOCODER_EMAIL", ""),
		OEmbedRPS:    atoi("OEMBED_RPS", 2),
		GeocoderRPS:  atoi("GEOCODER_RPS", 1),
		Workers:      atoi("INGEST_WORKERS", 4),
		LinksFile:    env("LINKS_FILE", "links.txt"),
		DedupeRadius: atof("DEDUPE_RADIUS_METERS", 100),
		CacheTTL:     time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
