package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Data       DataConfig       `json:"data"`
	Channels   ChannelsConfig   `json:"channels"`
	Engine     EngineConfig     `json:"engine"`
	Voices     VoicesConfig     `json:"voices"`
	Transcode  TranscodeConfig  `json:"transcode"`
	Whisper    WhisperConfig    `json:"whisper"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
}

type DataConfig struct {
	Dir string `json:"dir" env:"MYNAH_DATA_DIR"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"MYNAH_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"MYNAH_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MYNAH_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"MYNAH_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"MYNAH_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MYNAH_CHANNELS_DISCORD_ALLOW_FROM"`
}

// EngineConfig describes the external TTS inference server and the policies
// the work queue applies around it.
type EngineConfig struct {
	BaseURL       string `json:"base_url" env:"MYNAH_ENGINE_BASE_URL"`
	KeepCache     bool   `json:"keep_cache" env:"MYNAH_ENGINE_KEEP_CACHE"`
	ClipCharLimit int    `json:"clip_char_limit" env:"MYNAH_ENGINE_CLIP_CHAR_LIMIT"`
	TimeoutSec    int    `json:"timeout_sec" env:"MYNAH_ENGINE_TIMEOUT_SEC"`
}

type VoicesConfig struct {
	DefaultVoice    string   `json:"default_voice" env:"MYNAH_VOICES_DEFAULT_VOICE"`
	BuiltinVoices   []string `json:"builtin_voices"`
	SamplesMax      int      `json:"samples_max" env:"MYNAH_VOICES_SAMPLES_MAX"`
	MaxPerUser      int      `json:"max_per_user" env:"MYNAH_VOICES_MAX_PER_USER"`
	MinDurationSec  float64  `json:"min_duration_sec" env:"MYNAH_VOICES_MIN_DURATION_SEC"`
	MaxDurationSec  float64  `json:"max_duration_sec" env:"MYNAH_VOICES_MAX_DURATION_SEC"`
	SessionIdleMins int      `json:"session_idle_mins" env:"MYNAH_VOICES_SESSION_IDLE_MINS"`
}

type TranscodeConfig struct {
	FFmpegPath  string `json:"ffmpeg_path" env:"MYNAH_TRANSCODE_FFMPEG_PATH"`
	FFprobePath string `json:"ffprobe_path" env:"MYNAH_TRANSCODE_FFPROBE_PATH"`
}

type WhisperConfig struct {
	Enabled bool   `json:"enabled" env:"MYNAH_WHISPER_ENABLED"`
	BaseURL string `json:"base_url" env:"MYNAH_WHISPER_BASE_URL"`
}

type RateLimitsConfig struct {
	GenPerMinute int `json:"gen_per_minute" env:"MYNAH_RATE_LIMITS_GEN_PER_MINUTE"` // 0 = unlimited
}

func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir: "~/.mynah",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
			Discord: DiscordConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Engine: EngineConfig{
			BaseURL:       "http://localhost:8102",
			KeepCache:     false,
			ClipCharLimit: 300,
			TimeoutSec:    600,
		},
		Voices: VoicesConfig{
			DefaultVoice:    "train_dotrice",
			BuiltinVoices:   []string{"train_dotrice", "angie", "deniro", "freeman", "halle"},
			SamplesMax:      5,
			MaxPerUser:      10,
			MinDurationSec:  20,
			MaxDurationSec:  120,
			SessionIdleMins: 15,
		},
		Transcode: TranscodeConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Whisper: WhisperConfig{
			Enabled: false,
			BaseURL: "http://localhost:8200",
		},
		RateLimits: RateLimitsConfig{
			GenPerMinute: 6,
		},
	}
}

// LoadConfig reads path if it exists, then applies environment overrides.
// A missing file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// DataPath returns the expanded data directory.
func (c *Config) DataPath() string {
	return expandHome(c.Data.Dir)
}

// VoicesPath is the asset-store root holding per-user voice sample trees.
func (c *Config) VoicesPath() string {
	return filepath.Join(c.DataPath(), "user_voices")
}

// OutputsPath holds synthesized audio artifacts.
func (c *Config) OutputsPath() string {
	return filepath.Join(c.DataPath(), "outputs")
}

// DatabasePath is the sqlite settings database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataPath(), "mynah.db")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
