/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	JWKSURL                      string `mapstructure:"JWKS_URL"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	OTPTTLMinutes                int    `mapstructure:"OTP_TTL_MINUTES"`
	OTPMaxAttempts               int    `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPRequestRateLimitPerMinute int    `mapstructure:"OTP_REQUEST_RATE_LIMIT_PER_MINUTE"`
	InterestJobSchedule          string `mapstructure:"INTEREST_JOB_SCHEDULE"`
	MonthlyFeeJobSchedule        string `mapstructure:"MONTHLY_FEE_JOB_SCHEDULE"`
	OTPSweepSchedule             string `mapstructure:"OTP_SWEEP_SCHEDULE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("OTP_TTL_MINUTES", 10)
	viper.SetDefault("OTP_MAX_ATTEMPTS", 5)
	viper.SetDefault("OTP_REQUEST_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("INTEREST_JOB_SCHEDULE", "0 2 1 * *")
	viper.SetDefault("MONTHLY_FEE_JOB_SCHEDULE", "30 2 1 * *")
	viper.SetDefault("OTP_SWEEP_SCHEDULE", "*/5 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("OTP_TTL_MINUTES")
	_ = viper.BindEnv("OTP_MAX_ATTEMPTS")
	_ = viper.BindEnv("OTP_REQUEST_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("INTEREST_JOB_SCHEDULE")
	_ = viper.BindEnv("MONTHLY_FEE_JOB_SCHEDULE")
	_ = viper.BindEnv("OTP_SWEEP_SCHEDULE")

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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	if config.OTPTTLMinutes <= 0 {
		config.OTPTTLMinutes = 10
	}
	if config.OTPMaxAttempts <= 0 {
		config.OTPMaxAttempts = 5
	}
	if config.OTPRequestRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative otp rate limit configured; disabling\" limit=%d", config.OTPRequestRateLimitPerMinute)
		config.OTPRequestRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.InterestJobSchedule) == "" {
		config.InterestJobSchedule = "0 2 1 * *"
	}
	if strings.TrimSpace(config.MonthlyFeeJobSchedule) == "" {
		config.MonthlyFeeJobSchedule = "30 2 1 * *"
	}
	if strings.TrimSpace(config.OTPSweepSchedule) == "" {
		config.OTPSweepSchedule = "*/5 * * * *"
	}

	return
}
