// Package config loads the server configuration from a JSON file and applies
// environment variable overrides. The file format matches the deployment
// layout: a single server_config.json next to the static CSV tables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all tunable parameters for the game server. Wire-facing
// fields mirror the JSON keys of server_config.json.
type Config struct {
	Area             string `json:"area"`                // deployment region label
	Port             int    `json:"port"`                // WebSocket listen port
	PoemMillTime     int64  `json:"poem_mill_time"`      // answer window per question, in ms
	PoemScore        uint32 `json:"poem_score"`          // max score S for an instant correct answer
	MatchDataKeyName string `json:"match_data_key_name"` // Redis sorted-set key for the leaderboard

	// Paths to the static CSV tables, resolved relative to the config file
	// when not absolute. Empty values fall back to the conventional names.
	ExpectationTablePath string `json:"pet_csv,omitempty"`
	QuestionBankPath     string `json:"poem_csv,omitempty"`
	BotPoolPath          string `json:"robot_info_csv,omitempty"`
}

// Default returns a Config with development defaults. A production deployment
// always loads server_config.json; the defaults exist so tests and local runs
// can start without one.
func Default() Config {
	return Config{
		Area:             "dev",
		Port:             3044,
		PoemMillTime:     8000,
		PoemScore:        100,
		MatchDataKeyName: "PoemStarsMatchData",
	}
}

// Load reads the JSON config at path, fills unset table paths with their
// conventional names, and validates the result. Table paths are resolved
// relative to the config file's directory.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	cfg.ExpectationTablePath = resolve(dir, cfg.ExpectationTablePath, "pet.csv")
	cfg.QuestionBankPath = resolve(dir, cfg.QuestionBankPath, "poem.csv")
	cfg.BotPoolPath = resolve(dir, cfg.BotPoolPath, "robot_info.csv")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the round engine's clock
// arithmetic meaningless.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.PoemMillTime <= 0 {
		return fmt.Errorf("config: poem_mill_time must be positive, got %d", c.PoemMillTime)
	}
	if c.PoemScore == 0 {
		return fmt.Errorf("config: poem_score must be positive")
	}
	if c.MatchDataKeyName == "" {
		return fmt.Errorf("config: match_data_key_name is required")
	}
	return nil
}

// ListenAddr returns the WebSocket listen address derived from Port, unless
// LISTEN_ADDR overrides it.
func (c Config) ListenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":" + strconv.Itoa(c.Port)
}

func resolve(dir, configured, fallback string) string {
	p := configured
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
