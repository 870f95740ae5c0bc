package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appdefaults "github.com/pogojam/HomeAssistantVoiceAssistant/config"

	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/logger"
	"github.com/spf13/viper"
)

// DefaultModel is the realtime model used when none is configured.
const DefaultModel = "gpt-4o-realtime-preview"

// DefaultSystemPrompt seeds the session instructions.
const DefaultSystemPrompt = "You are a helpful home assistant. You can control smart home devices and answer questions."

// VoiceOptions lists the voices accepted by the realtime API.
var VoiceOptions = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// SystemConfig carries listen address fields nested under system_config.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HomeAssistantConfig points the tool dispatcher at a Home Assistant
// instance and its long-lived access token.
type HomeAssistantConfig struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Timeout int    `mapstructure:"timeout"`
}

// Config is the full bridge configuration.
type Config struct {
	RootDir  string `mapstructure:"-"`
	HTTPAddr string `mapstructure:"http_addr"`

	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	Voice               string  `mapstructure:"voice"`
	Temperature         float64 `mapstructure:"temperature"`
	SystemPrompt        string  `mapstructure:"system_prompt"`
	EnableHomeControl   bool    `mapstructure:"enable_home_control"`
	ConversationTimeout int     `mapstructure:"conversation_timeout"`

	RealtimeURL          string `mapstructure:"realtime_url"`
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"`

	SatelliteAudioFormat     string `mapstructure:"satellite_audio_format"`
	SatelliteSampleRate      int    `mapstructure:"satellite_sample_rate"`
	SatelliteChannels        int    `mapstructure:"satellite_channels"`
	SatelliteFrameDuration   int    `mapstructure:"satellite_frame_duration"`
	SatelliteProtocolVersion int    `mapstructure:"satellite_protocol_version"`
	OutputSampleRate         int    `mapstructure:"output_sample_rate"`

	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`

	TranscriptDir string `mapstructure:"transcript_dir"`
	ProfilesDir   string `mapstructure:"profiles_dir"`

	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`
	TLSDisable  bool   `mapstructure:"tls_disable"`

	SystemConfig SystemConfig  `mapstructure:"system_config"`
	Log          logger.Config `mapstructure:"log"`
}

// Load reads conf.yaml from the resolved root directory on top of the
// embedded defaults and the OAIRA_* environment.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finalize(v, rootDir)
}

// LoadConfig reads an explicit config file path, falling back to Load
// when the path is empty.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("OAIRA_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finalize(v, rootDir)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("http_addr", "")
	v.SetDefault("model", DefaultModel)
	v.SetDefault("voice", "alloy")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("enable_home_control", true)
	v.SetDefault("conversation_timeout", 30)
	v.SetDefault("realtime_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("satellite_audio_format", "pcm16")
	v.SetDefault("satellite_sample_rate", 16000)
	v.SetDefault("satellite_channels", 1)
	v.SetDefault("satellite_frame_duration", 20)
	v.SetDefault("satellite_protocol_version", 1)
	v.SetDefault("output_sample_rate", 24000)
	v.SetDefault("home_assistant.timeout", 15)
	v.SetDefault("tls_disable", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "realtime-assistant.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix("oaira")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func finalize(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the bridge cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("api_key is required")
	}
	if !IsValidVoice(cfg.Voice) {
		return fmt.Errorf("voice %q is not one of %s", cfg.Voice, strings.Join(VoiceOptions, ", "))
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", cfg.Temperature)
	}
	if cfg.ConversationTimeout <= 0 {
		return fmt.Errorf("conversation_timeout must be positive")
	}
	switch cfg.SatelliteAudioFormat {
	case "pcm16", "pcm", "opus":
	default:
		return fmt.Errorf("unsupported satellite_audio_format %q", cfg.SatelliteAudioFormat)
	}
	if cfg.SatelliteSampleRate <= 0 || cfg.SatelliteChannels <= 0 {
		return fmt.Errorf("satellite sample_rate and channels must be positive")
	}
	if cfg.EnableHomeControl && strings.TrimSpace(cfg.HomeAssistant.URL) == "" {
		return fmt.Errorf("home_assistant.url is required when enable_home_control is true")
	}
	return nil
}

// IsValidVoice reports whether name is a known realtime voice.
func IsValidVoice(name string) bool {
	for _, voice := range VoiceOptions {
		if voice == name {
			return true
		}
	}
	return false
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8123
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("OAIRA_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.TranscriptDir = resolvePath(cfg.RootDir, cfg.TranscriptDir, filepath.Join("data", "transcripts"))
	cfg.ProfilesDir = resolvePath(cfg.RootDir, cfg.ProfilesDir, "profiles")
	if cfg.TLSCertPath != "" {
		cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, "")
	}
	if cfg.TLSKeyPath != "" {
		cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, "")
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
