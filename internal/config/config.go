package config

import (
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/token"
)

var (
	logger = log.With().Str("component", "config").Logger()
)

type CategorySeed struct {
	Name          string `yaml:"name"`
	QuestionCount int    `yaml:"question_count"`
}

type Config struct {
	Port    uint   `yaml:"port"`
	GinMode string `yaml:"gin_mode"`

	// CORSAllowedOrigins for the browser frontend. Empty means same-origin
	// only.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	Auth token.Config `yaml:"auth"`
	DB   gormw.Config `yaml:"db"`

	// Categories seeds the static category table on startup.
	Categories []CategorySeed `yaml:"categories"`
}

func LoadConfig(path string) *Config {
	cfg := &Config{}

	file, err := os.Open(path)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to open config file: %s", path)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to decode config file")
	}

	cfg.validate()

	return cfg
}

func (c *Config) validate() {
	if c.Port == 0 {
		logger.Fatal().Msg("Port is missing")
	}

	if c.GinMode == "" {
		logger.Fatal().Msg("GinMode is missing")
	}

	c.Auth.Validate()
}
