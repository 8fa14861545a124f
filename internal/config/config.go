package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Trigger    TriggerConfig    `mapstructure:"trigger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GmailConfig holds Gmail API credentials for the rule gateway and notifier
type GmailConfig struct {
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RefreshToken  string `mapstructure:"refresh_token"`
	SenderEmail   string `mapstructure:"sender_email"`
	Notifications bool   `mapstructure:"notifications"`
}

// ReconcilerConfig holds the reconciliation loop configuration
type ReconcilerConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	GatewayTimeout  time.Duration `mapstructure:"gateway_timeout"`
	GatewayRPS      float64       `mapstructure:"gateway_rps"`
}

// TriggerConfig holds the on-demand reconcile trigger configuration
type TriggerConfig struct {
	Secret      string `mapstructure:"secret"`
	Environment string `mapstructure:"environment"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("gmail.notifications", false)

	viper.SetDefault("reconciler.interval_minutes", 1)
	viper.SetDefault("reconciler.gateway_timeout", "15s")
	viper.SetDefault("reconciler.gateway_rps", 5.0)

	viper.SetDefault("trigger.environment", "development")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Gmail
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("gmail.sender_email", "GMAIL_SENDER_EMAIL")
	viper.BindEnv("gmail.notifications", "GMAIL_NOTIFICATIONS")

	// Reconciler
	viper.BindEnv("reconciler.interval_minutes", "RECONCILER_INTERVAL_MINUTES")
	viper.BindEnv("reconciler.gateway_timeout", "RECONCILER_GATEWAY_TIMEOUT")
	viper.BindEnv("reconciler.gateway_rps", "RECONCILER_GATEWAY_RPS")

	// Trigger
	viper.BindEnv("trigger.secret", "TRIGGER_SECRET")
	viper.BindEnv("trigger.environment", "TRIGGER_ENVIRONMENT")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// IsProduction reports whether the configured environment is production
func (c *TriggerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
		return fmt.Errorf("Gmail OAuth2 credentials are required")
	}

	if c.Reconciler.IntervalMinutes <= 0 {
		return fmt.Errorf("reconciler interval must be greater than 0")
	}

	if c.Trigger.Secret == "" && c.Trigger.IsProduction() {
		return fmt.Errorf("trigger secret is required in production")
	}

	return nil
}
