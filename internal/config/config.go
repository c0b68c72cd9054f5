package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	MaxConnectionsPerUser int           `mapstructure:"max_connections_per_user"`
	PingInterval          time.Duration `mapstructure:"ping_interval"`
	PongTimeout           time.Duration `mapstructure:"pong_timeout"`

	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	IncludeAudio      bool          `mapstructure:"include_audio"`
	IncludeTranscript bool          `mapstructure:"include_transcript"`

	Provider     string `mapstructure:"provider"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"`
	LLMHandler   bool   `mapstructure:"llm_handler"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("max_connections_per_user", 5)
	v.SetDefault("ping_interval", "30s")
	v.SetDefault("pong_timeout", "5s")
	v.SetDefault("batch_timeout", "5s")
	v.SetDefault("max_batch_size", 10)
	v.SetDefault("include_audio", true)
	v.SetDefault("include_transcript", true)
	v.SetDefault("provider", "stub")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("llm_handler", false)

	v.BindEnv("openai_api_key", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Provider: %s\n", cfg.Mode, cfg.Port, cfg.Provider)
	return &cfg, nil
}
