/**
 * @description
 * This package handles the configuration management for the vault-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the vault-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisLockoutPrefix   string `mapstructure:"REDIS_LOCKOUT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JWTSigningSecret     string `mapstructure:"JWT_SIGNING_SECRET"`
	GatewayAPIBaseURL    string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAPIKey        string `mapstructure:"GATEWAY_API_KEY"`
	LoginMaxAttempts     int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginLockoutSeconds  int    `mapstructure:"LOGIN_LOCKOUT_SECONDS"`
	SecretHashIterations int    `mapstructure:"SECRET_HASH_ITERATIONS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_LOCKOUT_PREFIX", "vault:lockout")
	viper.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	viper.SetDefault("LOGIN_LOCKOUT_SECONDS", 900)
	viper.SetDefault("SECRET_HASH_ITERATIONS", 100000)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "VAULT_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCKOUT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SIGNING_SECRET")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("LOGIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("LOGIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("SECRET_HASH_ITERATIONS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockoutPrefix = strings.TrimSpace(config.RedisLockoutPrefix)
	if config.RedisLockoutPrefix == "" {
		config.RedisLockoutPrefix = "vault:lockout"
	}

	if config.LoginMaxAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive LOGIN_MAX_ATTEMPTS; using default\" value=%d", config.LoginMaxAttempts)
		config.LoginMaxAttempts = 5
	}
	if config.LoginLockoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive LOGIN_LOCKOUT_SECONDS; using default\" value=%d", config.LoginLockoutSeconds)
		config.LoginLockoutSeconds = 900
	}
	if config.SecretHashIterations < 10000 {
		log.Printf("level=warn component=config msg=\"SECRET_HASH_ITERATIONS below safe floor; raising\" value=%d", config.SecretHashIterations)
		config.SecretHashIterations = 100000
	}

	return
}
