package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Verification VerificationConfig `json:"verification"`
	Jobs         JobsConfig         `json:"jobs"`
	AWS          AWSConfig          `json:"aws"`
	Security     SecurityConfig     `json:"security"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// VerificationConfig controls the review lifecycle timings
type VerificationConfig struct {
	BufferMinutes           int `json:"buffer_minutes"`            // cool-down between approval and activation
	ExpiredSweepMinutes     int `json:"expired_sweep_minutes"`     // cadence of the expired-buffer sweep
	ExpiredFastSweepMinutes int `json:"expired_fast_sweep_minutes"` // optional tighter cadence, 0 disables
	UnassignedSweepMinutes  int `json:"unassigned_sweep_minutes"`  // cadence of the unassigned-request sweep
	SweepBatchSize          int `json:"sweep_batch_size"`
}

// JobsConfig controls the delayed-job worker
type JobsConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	MaxAttempts  int           `json:"max_attempts"`
	RetryDelay   time.Duration `json:"retry_delay"`
}

// AWSConfig holds SNS/S3 settings
type AWSConfig struct {
	Region          string `json:"region"`
	SNSTopicARN     string `json:"sns_topic_arn"`
	DocumentsBucket string `json:"documents_bucket"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "ridelink_drivers",
			SSLMode: "disable",
		},
		Verification: VerificationConfig{
			BufferMinutes:          60,
			ExpiredSweepMinutes:    120,
			UnassignedSweepMinutes: 60,
			SweepBatchSize:         50,
		},
		Jobs: JobsConfig{
			PollInterval: 5 * time.Second,
			MaxAttempts:  5,
			RetryDelay:   time.Minute,
		},
		AWS: AWSConfig{
			Region:          "ap-southeast-1",
			DocumentsBucket: "ridelink-driver-docs",
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.AWS.Region = region
	}
	if topic := os.Getenv("SNS_TOPIC_ARN"); topic != "" {
		config.AWS.SNSTopicARN = topic
	}
	if bucket := os.Getenv("DOCUMENTS_BUCKET"); bucket != "" {
		config.AWS.DocumentsBucket = bucket
	}
	if mins := os.Getenv("VERIFICATION_BUFFER_MINUTES"); mins != "" {
		if m, err := strconv.Atoi(mins); err == nil {
			config.Verification.BufferMinutes = m
		}
	}
}

// BufferDuration returns the approval cool-down window
func (c *VerificationConfig) BufferDuration() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
