package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string   `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string   `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string   `envconfig:"DATABASE_PATH" default:""`
	JWTSecret    string   `envconfig:"JWT_SECRET" default:""`
	AuthDisabled bool     `envconfig:"AUTH_DISABLED" default:"false"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogPath   string `envconfig:"LOG_PATH" default:""`

	// Execution engine
	RunTimeout      time.Duration `envconfig:"RUN_TIMEOUT" default:"15s"`
	RunTempDir      string        `envconfig:"RUN_TEMP_DIR" default:""`
	RunOutputBuffer int           `envconfig:"RUN_OUTPUT_BUFFER" default:"256"`
	ToolchainFile   string        `envconfig:"TOOLCHAIN_FILE" default:""`

	// Terminal multiplexer
	TerminalShell          string `envconfig:"TERMINAL_SHELL" default:""`
	TerminalWorkdir        string `envconfig:"TERMINAL_WORKDIR" default:""`
	TerminalReapEmptyRooms bool   `envconfig:"TERMINAL_REAP_EMPTY_ROOMS" default:"false"`
	TerminalReapSchedule   string `envconfig:"TERMINAL_REAP_SCHEDULE" default:"@every 1m"`

	// Inbound event throttling
	EventRateLimit   float64 `envconfig:"EVENT_RATE_LIMIT" default:"100"`
	EventRateBurst   int     `envconfig:"EVENT_RATE_BURST" default:"200"`
	UpgradeRatePerIP float64 `envconfig:"UPGRADE_RATE_PER_IP" default:"5"`

	// AI providers
	GoogleAPIKey  string        `envconfig:"GOOGLE_API_KEY" default:""`
	GeminiModels  []string      `envconfig:"GEMINI_MODELS" default:"gemini-2.0-flash,gemini-1.5-flash,gemini-flash-latest,gemini-2.0-flash-lite-preview-02-05"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GroqAPIKey    string        `envconfig:"GROQ_API_KEY" default:""`
	GroqModel     string        `envconfig:"GROQ_MODEL" default:"llama-3.1-8b-instant"`
	GroqBaseURL   string        `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("CODELIVE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// DATABASE_PATH defaults to a file under DATA_PATH
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "codelive.db")
	}
}

// Toolchain maps the logical tool names used by the execution engine
// (node, python, javac, java, g++, gcc) to the binaries that provide them.
type Toolchain map[string]string

// LoadToolchain reads a YAML toolchain override file. An empty path yields
// an empty override set.
//
//	python: python3
//	node: /usr/local/bin/node
func LoadToolchain(path string) (Toolchain, error) {
	if path == "" {
		return Toolchain{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read toolchain file: %w", err)
	}
	tc := Toolchain{}
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parse toolchain file: %w", err)
	}
	return tc, nil
}

// Binary returns the override for name, or name itself.
func (t Toolchain) Binary(name string) string {
	if bin, ok := t[name]; ok && bin != "" {
		return bin
	}
	return name
}
