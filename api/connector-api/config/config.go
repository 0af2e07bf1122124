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

	// Secret signs the JWTs minted for agent UIs; ApiKey is the shared
	// application-level credential the bridge presents on /register-app.
	// Empty ApiKey rejects all application registrations.
	Secret string `mapstructure:"secret" validate:"required"`
	ApiKey string `mapstructure:"api_key"`

	// Seconds a minted JWT stays valid.
	JwtExpiry int `mapstructure:"jwt_expiry" validate:"required"`

	// Comma separated list of origins allowed to call the REST surface and
	// open hub connections. "*" allows everything.
	CorsAllowedOrigins string `mapstructure:"cors_allowed_origins"`

	// Identity provider checked by /register: genesyscloud, salesforce or
	// twilio, plus the per-provider settings below. Anything else rejects
	// all user registrations.
	AuthOption               string `mapstructure:"auth_option"`
	GenesysCloudEnvironment  string `mapstructure:"genesys_cloud_environment"`
	SalesforceDomain         string `mapstructure:"salesforce_domain"`
	SalesforceOrganizationID string `mapstructure:"salesforce_organization_id"`
	TwilioFlexEnvironment    string `mapstructure:"twilio_flex_environment"`

	RedisHost string `mapstructure:"redishost" validate:"required"`
	RedisPort int    `mapstructure:"redisport" validate:"required"`
	RedisAuth string `mapstructure:"redisauth"`

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

// Origins splits the configured CORS origin list.
func (c *AppConfig) Origins() []string {
	if strings.TrimSpace(c.CorsAllowedOrigins) == "" {
		return []string{"*"}
	}
	parts := strings.Split(c.CorsAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
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

	v.SetDefault("SERVICE_NAME", "connector-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENVIRONMENT", string(utils.DEVELOPMENT))

	v.SetDefault("SECRET", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("JWT_EXPIRY", 3600)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("AUTH_OPTION", "")
	v.SetDefault("GENESYS_CLOUD_ENVIRONMENT", "mypurecloud.com")
	v.SetDefault("SALESFORCE_DOMAIN", "login.salesforce.com")
	v.SetDefault("SALESFORCE_ORGANIZATION_ID", "")
	v.SetDefault("TWILIO_FLEX_ENVIRONMENT", "")

	v.SetDefault("REDISHOST", "")
	v.SetDefault("REDISPORT", 6379)
	v.SetDefault("REDISAUTH", "")
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
