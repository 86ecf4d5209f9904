package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/satriahrh/persona-chat/adapters/llm"
	"github.com/satriahrh/persona-chat/usecase"
)

const AppName = "persona-chat"

const (
	KeyGoogleAPIKey   = "google_api_key"
	KeyGeminiModel    = "gemini_model"
	KeyHTTPAddr       = "http_addr"
	KeyHistoryPath    = "history_path"
	KeyPersonaDBPath  = "persona_db_path"
	KeySettleDelay    = "settle_delay"
	KeySpeechLanguage = "speech_language"
	KeySpeechEnabled  = "speech_enabled"
	KeyDebug          = "debug"
)

type Config struct {
	GoogleAPIKey   string
	GeminiModel    string
	HTTPAddr       string
	HistoryPath    string
	PersonaDBPath  string
	SettleDelay    time.Duration
	SpeechLanguage string
	SpeechEnabled  bool
	Debug          bool
}

// New returns a viper instance with defaults, environment variables and the
// optional config file applied. cfgFile overrides the XDG lookup.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
		v.SetConfigName("config")
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func SetDefaults(v *viper.Viper) {
	dataDir := filepath.Join(xdg.DataHome, AppName)

	v.SetDefault(KeyGeminiModel, llm.DefaultModel)
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyHistoryPath, filepath.Join(dataDir, "history.db"))
	v.SetDefault(KeyPersonaDBPath, filepath.Join(dataDir, "personas.db"))
	v.SetDefault(KeySettleDelay, usecase.DefaultSettleDelay)
	v.SetDefault(KeySpeechLanguage, "en-US")
	v.SetDefault(KeySpeechEnabled, true)
	v.SetDefault(KeyDebug, false)
}

// Load reads a validated Config out of v. A missing API key is not an error;
// it shows up on the first send instead.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		GoogleAPIKey:   strings.TrimSpace(v.GetString(KeyGoogleAPIKey)),
		GeminiModel:    strings.TrimSpace(v.GetString(KeyGeminiModel)),
		HTTPAddr:       strings.TrimSpace(v.GetString(KeyHTTPAddr)),
		HistoryPath:    v.GetString(KeyHistoryPath),
		PersonaDBPath:  v.GetString(KeyPersonaDBPath),
		SettleDelay:    v.GetDuration(KeySettleDelay),
		SpeechLanguage: strings.TrimSpace(v.GetString(KeySpeechLanguage)),
		SpeechEnabled:  v.GetBool(KeySpeechEnabled),
		Debug:          v.GetBool(KeyDebug),
	}

	switch {
	case cfg.HTTPAddr == "":
		return Config{}, fmt.Errorf("config: %s must not be empty", KeyHTTPAddr)
	case cfg.HistoryPath == "":
		return Config{}, fmt.Errorf("config: %s must not be empty", KeyHistoryPath)
	case cfg.PersonaDBPath == "":
		return Config{}, fmt.Errorf("config: %s must not be empty", KeyPersonaDBPath)
	case cfg.SettleDelay < 0:
		return Config{}, fmt.Errorf("config: %s must not be negative", KeySettleDelay)
	}
	return cfg, nil
}
