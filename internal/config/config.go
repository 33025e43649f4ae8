package config

import (
	_ "embed"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Scan       ScanConfig
	Enrollment EnrollmentConfig
	Embedding  EmbeddingConfig
	Camera     CameraConfig
	Database   DatabaseConfig
	Legacy     LegacyConfig
	Recorder   RecorderConfig
	Redis      RedisConfig
	Web        WebConfig
	Log        LogConfig
}

type ScanConfig struct {
	Threshold     float64       `yaml:"threshold"`      // max Euclidean distance accepted as a match
	TickInterval  time.Duration `yaml:"tick_interval"`  // detection loop cadence
	RecordTimeout time.Duration `yaml:"record_timeout"` // per attendance record call
	Timezone      string        `yaml:"timezone"`       // IANA name or "Local", used for the attendance day
	MaxFrameSize  int           `yaml:"max_frame_size"` // frames are downscaled to this longest side before detection
	PurgeAfter    time.Duration `yaml:"purge_after"`    // stopped sessions are dropped after this long
}

// Location resolves Timezone, falling back to time.Local for unknown names.
func (c *ScanConfig) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

type EnrollmentConfig struct {
	CollisionThreshold float64 `yaml:"collision_threshold"`
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
}

type CameraConfig struct {
	SnapshotURL string // JPEG snapshot endpoint used by "camera" sessions
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// LegacyConfig points at the old MySQL/MariaDB enrollment table (user_faces).
type LegacyConfig struct {
	DatabaseURL string
}

// RecorderConfig selects where attendance is written. When URL is empty the
// PostgreSQL attendance table is used.
type RecorderConfig struct {
	URL   string
	Token string
}

type RedisConfig struct {
	Addr    string
	Channel string // defaults to "attendance"
}

type WebConfig struct {
	JWTSecret      string
	AllowedOrigins []string // CORS origins besides localhost
}

type LogConfig struct {
	Mode string // "prod" for JSON output, anything else for development
}

type defaults struct {
	Scan       ScanConfig       `yaml:"scan"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal when unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultVal
	}
	return f
}

// envDuration reads a positive time.Duration such as "500ms".
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Scan: ScanConfig{
			Threshold:     envFloat("MATCH_THRESHOLD", d.Scan.Threshold),
			TickInterval:  envDuration("SCAN_TICK_INTERVAL", d.Scan.TickInterval),
			RecordTimeout: envDuration("SCAN_RECORD_TIMEOUT", d.Scan.RecordTimeout),
			Timezone:      envString("SCAN_TIMEZONE", d.Scan.Timezone),
			MaxFrameSize:  envInt("SCAN_MAX_FRAME_SIZE", d.Scan.MaxFrameSize),
			PurgeAfter:    envDuration("SCAN_PURGE_AFTER", d.Scan.PurgeAfter),
		},
		Enrollment: EnrollmentConfig{
			CollisionThreshold: envFloat("ENROLLMENT_COLLISION_THRESHOLD", d.Enrollment.CollisionThreshold),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
		},
		Camera: CameraConfig{
			SnapshotURL: os.Getenv("CAMERA_SNAPSHOT_URL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Legacy: LegacyConfig{
			DatabaseURL: os.Getenv("LEGACY_DATABASE_URL"),
		},
		Recorder: RecorderConfig{
			URL:   os.Getenv("RECORDER_URL"),
			Token: os.Getenv("RECORDER_TOKEN"),
		},
		Redis: RedisConfig{
			Addr:    os.Getenv("REDIS_ADDR"),
			Channel: envString("REDIS_CHANNEL", "attendance"),
		},
		Web: WebConfig{
			JWTSecret:      os.Getenv("WEB_JWT_SECRET"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Mode: envString("LOG_MODE", "dev"),
		},
	}
}
