package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deployment engine
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Registry    RegistryConfig
	Credentials CredentialsConfig
	Pipeline    PipelineConfig
	Provisioner ProvisionerConfig
	Worker      WorkerConfig
	Tracing     TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
	RateLimit    bool
}

// DatabaseConfig holds state store configuration. Sqlite on Path is the
// default; Driver set to postgres selects the connection fields instead.
// The password has no default and is expected from the environment.
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds run queue configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RegistryConfig holds the registry defaults applied when a run request
// leaves them unset
type RegistryConfig struct {
	Kind     string
	Region   string
	Identity string
}

// CredentialsConfig selects the credential backend. Source is "env" or
// "aws-secrets-manager"; secrets themselves never appear in this file.
type CredentialsConfig struct {
	Source    string
	Region    string
	EnvPrefix string
}

// PipelineConfig tunes run execution
type PipelineConfig struct {
	MaxOutputBytes int
}

// ProvisionerConfig holds infrastructure provisioner configuration
type ProvisionerConfig struct {
	Binary         string
	InitTimeout    time.Duration
	PlanTimeout    time.Duration
	ApplyTimeout   time.Duration
	DestroyTimeout time.Duration
}

// WorkerConfig holds run worker configuration
type WorkerConfig struct {
	Concurrency int
	RunTimeout  time.Duration
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	Insecure       bool
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars only
	}

	// Override with environment variables: DEPLOY_DATABASE_PASSWORD maps
	// to database.password
	viper.SetEnvPrefix("DEPLOY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("server.port"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
			LogLevel:     viper.GetString("server.log_level"),
			RateLimit:    viper.GetBool("server.rate_limit"),
		},
		Database: DatabaseConfig{
			Driver:          viper.GetString("database.driver"),
			Host:            viper.GetString("database.host"),
			Port:            viper.GetInt("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			DBName:          viper.GetString("database.dbname"),
			SSLMode:         viper.GetString("database.sslmode"),
			Path:            viper.GetString("database.path"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Registry: RegistryConfig{
			Kind:     viper.GetString("registry.kind"),
			Region:   viper.GetString("registry.region"),
			Identity: viper.GetString("registry.identity"),
		},
		Credentials: CredentialsConfig{
			Source:    viper.GetString("credentials.source"),
			Region:    viper.GetString("credentials.region"),
			EnvPrefix: viper.GetString("credentials.env_prefix"),
		},
		Pipeline: PipelineConfig{
			MaxOutputBytes: viper.GetInt("pipeline.max_output_bytes"),
		},
		Provisioner: ProvisionerConfig{
			Binary:         viper.GetString("provisioner.binary"),
			InitTimeout:    viper.GetDuration("provisioner.init_timeout"),
			PlanTimeout:    viper.GetDuration("provisioner.plan_timeout"),
			ApplyTimeout:   viper.GetDuration("provisioner.apply_timeout"),
			DestroyTimeout: viper.GetDuration("provisioner.destroy_timeout"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
			RunTimeout:  viper.GetDuration("worker.run_timeout"),
		},
		Tracing: TracingConfig{
			Enabled:        viper.GetBool("tracing.enabled"),
			ServiceName:    viper.GetString("tracing.service_name"),
			ServiceVersion: viper.GetString("tracing.service_version"),
			Environment:    viper.GetString("tracing.environment"),
			OTLPEndpoint:   viper.GetString("tracing.otlp_endpoint"),
			SampleRate:     viper.GetFloat64("tracing.sample_rate"),
			Insecure:       viper.GetBool("tracing.insecure"),
		},
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.rate_limit", true)

	// Database defaults. Sqlite is the default store; set
	// DEPLOY_DATABASE_DRIVER=postgres for shared deployments. The password
	// deliberately has no default; set DEPLOY_DATABASE_PASSWORD.
	viper.SetDefault("database.driver", "")
	viper.SetDefault("database.host", "127.0.0.1")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "deploy")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "deploy_engine")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", "deploy-engine.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Registry defaults
	viper.SetDefault("registry.kind", "ecr")
	viper.SetDefault("registry.region", "")
	viper.SetDefault("registry.identity", "")

	// Credentials defaults
	viper.SetDefault("credentials.source", "env")
	viper.SetDefault("credentials.region", "")
	viper.SetDefault("credentials.env_prefix", "")

	// Pipeline defaults
	viper.SetDefault("pipeline.max_output_bytes", 256*1024)

	// Provisioner defaults
	viper.SetDefault("provisioner.binary", "terraform")
	viper.SetDefault("provisioner.init_timeout", 5*time.Minute)
	viper.SetDefault("provisioner.plan_timeout", 10*time.Minute)
	viper.SetDefault("provisioner.apply_timeout", 30*time.Minute)
	viper.SetDefault("provisioner.destroy_timeout", 30*time.Minute)

	// Worker defaults
	viper.SetDefault("worker.concurrency", 3)
	viper.SetDefault("worker.run_timeout", 30*time.Minute)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "deploy-engine")
	viper.SetDefault("tracing.service_version", "1.0.0")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)
}
