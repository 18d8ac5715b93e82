package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultModel          = "gpt-4o"
	DefaultVisionModel    = "gpt-4o"
	DefaultMaxTokens      = 800
	DefaultTemperature    = 0.8
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 3000
	DefaultBufSize        = 100
	DefaultVoice          = "nb-NO-FinnNeural"
	DefaultSpeechRate     = 50
	DefaultVolume         = 80
	DefaultOwnerName      = "Osmund"
	DefaultDuckName       = "Duck-Oslo"
	DefaultBrokerPort     = 1883
	DefaultRelayPollSec   = 5
	DefaultRolloverHour   = 8
	DefaultContextLimit   = 8
	DefaultMemoryLimit    = 5
	DefaultSessionGapMin  = 30
	DefaultUserTimeoutMin = 30
)

type Config struct {
	Duck    DuckConfig    `json:"duck"`
	Gateway GatewayConfig `json:"gateway"`
	LLM     LLMConfig     `json:"llm"`
	TTS     TTSConfig     `json:"tts"`
	Relay   RelayConfig   `json:"relay"`
	Vision  VisionConfig  `json:"vision"`
	Speech  SpeechConfig  `json:"speech"`
	Thermal ThermalConfig `json:"thermal"`
	Hunger  HungerConfig  `json:"hunger"`
}

type DuckConfig struct {
	Name      string `json:"name"`      // registered duck name, e.g. "Duck-Oslo"
	OwnerName string `json:"ownerName"` // the one user with relation=owner
	DataDir   string `json:"dataDir"`   // db, images, announcement audio
	DBPath    string `json:"dbPath,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LLMConfig struct {
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model"`
	VisionModel string  `json:"visionModel"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type TTSConfig struct {
	Key      string `json:"key"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint,omitempty"` // overrides the region endpoint
	Voice    string `json:"voice"`
}

type RelayConfig struct {
	Enabled     bool   `json:"enabled"`
	BaseURL     string `json:"baseUrl"`
	PhoneNumber string `json:"phoneNumber"`
	OwnerPhone  string `json:"ownerPhone"`
	PollSec     int    `json:"pollSec"`
}

type VisionConfig struct {
	Enabled    bool   `json:"enabled"`
	BrokerHost string `json:"brokerHost"`
	BrokerPort int    `json:"brokerPort"`
}

type SpeechConfig struct {
	BeakEnabled bool `json:"beakEnabled"`
	SampleRate  int  `json:"sampleRate"`
}

type ThermalConfig struct {
	FanPin  int     `json:"fanPin"`
	TempOn  float64 `json:"tempOn"`
	TempOff float64 `json:"tempOff"`
}

type HungerConfig struct {
	MealHours    []int   `json:"mealHours"`
	Threshold    float64 `json:"threshold"`
	RolloverHour int     `json:"rolloverHour"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Duck: DuckConfig{
			Name:      DefaultDuckName,
			OwnerName: DefaultOwnerName,
			DataDir:   filepath.Join(home, ".duckberry"),
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		LLM: LLMConfig{
			Model:       DefaultModel,
			VisionModel: DefaultVisionModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		TTS: TTSConfig{
			Voice: DefaultVoice,
		},
		Relay: RelayConfig{
			PollSec: DefaultRelayPollSec,
		},
		Vision: VisionConfig{
			BrokerPort: DefaultBrokerPort,
		},
		Speech: SpeechConfig{
			BeakEnabled: true,
			SampleRate:  48000,
		},
		Thermal: ThermalConfig{
			FanPin:  13,
			TempOn:  55.0,
			TempOff: 50.0,
		},
		Hunger: HungerConfig{
			MealHours:    []int{12, 17, 21},
			Threshold:    7.0,
			RolloverHour: DefaultRolloverHour,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".duckberry")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("DUCKBERRY_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if url := os.Getenv("DUCKBERRY_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if key := os.Getenv("DUCKBERRY_TTS_KEY"); key != "" {
		cfg.TTS.Key = key
	}
	if region := os.Getenv("DUCKBERRY_TTS_REGION"); region != "" {
		cfg.TTS.Region = region
	}
	if url := os.Getenv("DUCKBERRY_RELAY_URL"); url != "" {
		cfg.Relay.BaseURL = url
		cfg.Relay.Enabled = true
	}
	if broker := os.Getenv("DUCKBERRY_VISION_BROKER"); broker != "" {
		cfg.Vision.BrokerHost = broker
		cfg.Vision.Enabled = true
	}

	if cfg.Duck.DataDir == "" {
		cfg.Duck.DataDir = DefaultConfig().Duck.DataDir
	}
	if cfg.Duck.DBPath == "" {
		cfg.Duck.DBPath = filepath.Join(cfg.Duck.DataDir, "duck_memory.db")
	}
	if len(cfg.Hunger.MealHours) == 0 {
		cfg.Hunger.MealHours = DefaultConfig().Hunger.MealHours
	}
	if cfg.Hunger.Threshold <= 0 {
		cfg.Hunger.Threshold = DefaultConfig().Hunger.Threshold
	}
	if cfg.Relay.PollSec <= 0 {
		cfg.Relay.PollSec = DefaultRelayPollSec
	}
	if cfg.Speech.SampleRate <= 0 {
		cfg.Speech.SampleRate = 48000
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// ImagesDir is where received/uploaded images are stored.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.Duck.DataDir, "received_images")
}

// AnnouncementsDir holds pre-rendered announcement audio clips.
func (c *Config) AnnouncementsDir() string {
	return filepath.Join(c.Duck.DataDir, "announcements")
}

// ControlDir holds the plaintext control files written by the web panel.
func (c *Config) ControlDir() string {
	return filepath.Join(c.Duck.DataDir, "control")
}
