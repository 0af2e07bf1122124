// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/meshvox/agent-assist/pkg/configs"
	"github.com/meshvox/agent-assist/pkg/utils"
)

// Application config structure
type AppConfig struct {
	Name        string `mapstructure:"service_name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	Environment string `mapstructure:"environment"`

	// Shared secret the audiohook client presents on upgrade, also used
	// when registering conversation names with the connector service.
	// Empty disables the upgrade check.
	ApiKey string `mapstructure:"api_key"`

	// Full conversation profile resource name, including its location.
	ConversationProfileName string `mapstructure:"conversation_profile_name" validate:"required"`
	GcpProjectID            string `mapstructure:"gcp_project_id" validate:"required"`

	// Base URL of the connector service used for token registration and
	// conversation name mapping. Empty disables registration.
	UiConnectorEndpoint string `mapstructure:"ui_connector"`

	RedisHost string `mapstructure:"redishost" validate:"required"`
	RedisPort int    `mapstructure:"redisport" validate:"required"`
	RedisAuth string `mapstructure:"redisauth"`

	// Seconds to poll for a hub subscriber before resuming audio anyway.
	Timeout int `mapstructure:"timeout" validate:"required"`

	// Audio geometry. Rate is samples per second, chunk size the number of
	// bytes handed to recognition per read, lookback the seconds of audio
	// replayed after a stream restart.
	Rate        int `mapstructure:"rate" validate:"required"`
	ChunkSize   int `mapstructure:"chunk_size" validate:"required"`
	MaxLookback int `mapstructure:"max_lookback" validate:"required"`

	// Summaries are requested every SummaryInterval seconds and fall back to
	// the durable topic when no hub subscriber exists.
	SummaryInterval int    `mapstructure:"summary_interval" validate:"required"`
	SummaryTopic    string `mapstructure:"summary_topic"`

	// Optional TTL in seconds for routing entries, 0 keeps them until an
	// explicit delete.
	RoutingTTL int `mapstructure:"routing_ttl"`
}

// Redis builds the shared connector config from the flat env keys.
func (c *AppConfig) Redis() *configs.RedisConfig {
	return &configs.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisAuth,
	}
}

// Address is the listen address for the http server.
func (c *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DebugEnabled reports whether recognition requests should carry debugging
// info, tied to the service log level.
func (c *AppConfig) DebugEnabled() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

// IsProduction reports whether the service targets a production deployment.
func (c *AppConfig) IsProduction() bool {
	return utils.FromEnvironmentStr(c.Environment).IsProduction()
}

// reading config and initializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "audiohook-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8081)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENVIRONMENT", string(utils.DEVELOPMENT))

	v.SetDefault("API_KEY", "")
	v.SetDefault("CONVERSATION_PROFILE_NAME", "")
	v.SetDefault("GCP_PROJECT_ID", "")
	v.SetDefault("UI_CONNECTOR", "")

	v.SetDefault("REDISHOST", "")
	v.SetDefault("REDISPORT", 6379)
	v.SetDefault("REDISAUTH", "")

	v.SetDefault("TIMEOUT", 2)
	v.SetDefault("RATE", 8000)
	v.SetDefault("CHUNK_SIZE", 1600)
	v.SetDefault("MAX_LOOKBACK", 3)

	v.SetDefault("SUMMARY_INTERVAL", 60)
	v.SetDefault("SUMMARY_TOPIC", "")
	v.SetDefault("ROUTING_TTL", 0)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
