// Package config loads the process configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings for one facelab process.
type Config struct {
	Addr          string
	CameraID      int
	FrameWidth    int
	FrameHeight   int
	ModelDir      string
	ScriptPath    string
	Python        string
	DataDir       string
	StaticDir     string
	Backend       string
	TimingMs      int
	LogLevel      string
	LogFile       string
	DetectTimeout time.Duration
	Mobile        bool
	Tray          bool
}

// Load reads an optional .env file and then the environment, falling back to defaults.
// Variables already present in the environment win over the .env file.
func Load(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	return &Config{
		Addr:          getEnv("ADDR", ":8080"),
		CameraID:      getEnvAsInt("CAMERA_ID", 0),
		FrameWidth:    getEnvAsInt("FRAME_WIDTH", 640),
		FrameHeight:   getEnvAsInt("FRAME_HEIGHT", 480),
		ModelDir:      getEnv("MODEL_DIR", filepath.Join(".", "models")),
		ScriptPath:    getEnv("SCRIPT_PATH", filepath.Join("scripts", "vision_service.py")),
		Python:        getEnv("PYTHON", "python3"),
		DataDir:       getEnv("DATA_DIR", defaultDataDir()),
		StaticDir:     getEnv("STATIC_DIR", ""),
		Backend:       strings.ToUpper(getEnv("BACKEND", "NONE")),
		TimingMs:      getEnvAsInt("TIMING_MS", 100),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		DetectTimeout: getEnvAsDuration("DETECT_TIMEOUT", 0),
		Mobile:        getEnvAsBool("MOBILE", false),
		Tray:          getEnvAsBool("TRAY", false),
	}
}

// DBPath returns the settings database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "facelab.db")
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".facelab"
	}
	return filepath.Join(homeDir, ".facelab")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or bare milliseconds ("250").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
