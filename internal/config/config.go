// Package config loads service configuration from the environment and an
// optional YAML file.
//
// Keys are dotted (db.host) and map to upper-cased, underscore separated
// environment variables (DB_HOST). CONFIG_FILE points at an optional file
// whose values are overridden by the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"db"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Identity IdentityConfig `mapstructure:"identity"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	// Driver selects the storage: "postgres" or "memory".
	Driver      string        `mapstructure:"driver"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// NotifyConfig selects and configures the notification publisher.
type NotifyConfig struct {
	Backend        string        `mapstructure:"backend"` // nats | kafka | redis | noop
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	NATSURL        string        `mapstructure:"nats_url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	KafkaBrokers   []string      `mapstructure:"kafka_brokers"`
	KafkaTopic     string        `mapstructure:"kafka_topic"`
	RedisURL       string        `mapstructure:"redis_url"`
	RedisStream    string        `mapstructure:"redis_stream"`
	RedisMaxLen    int64         `mapstructure:"redis_maxlen"`
}

type IdentityConfig struct {
	// GRPCURL is the identity directory address; empty disables lookups.
	GRPCURL string        `mapstructure:"grpc_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkflowConfig struct {
	// EmptyFlowPolicy is "deny" or "open".
	EmptyFlowPolicy string `mapstructure:"empty_flow_policy"`
}

type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputFile string `mapstructure:"output_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-form-workflows")
	v.SetDefault("service.version", "0.1.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("grpc.port", 9086)

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "form_workflows")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_time", time.Hour)
	v.SetDefault("db.max_idle_time", 30*time.Minute)
	v.SetDefault("db.health_check", time.Minute)

	v.SetDefault("notify.backend", "noop")
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.publish_timeout", 5*time.Second)
	v.SetDefault("notify.nats_url", "nats://localhost:4222")
	v.SetDefault("notify.subject_prefix", "notifications.forms")
	v.SetDefault("notify.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("notify.kafka_topic", "notifications.forms")
	v.SetDefault("notify.redis_url", "redis://localhost:6379/0")
	v.SetDefault("notify.redis_stream", "notifications:forms")
	v.SetDefault("notify.redis_maxlen", int64(100000))

	v.SetDefault("identity.grpc_url", "")
	v.SetDefault("identity.timeout", 2*time.Second)

	v.SetDefault("workflow.empty_flow_policy", "deny")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output_file", "")

	v.SetDefault("log.level", "info")
}

// envAliases are the short variable names used by the deployment manifests.
var envAliases = map[string][]string{
	"service.name":               {"SERVICE_NAME"},
	"service.version":            {"SERVICE_VERSION"},
	"service.environment":        {"SERVICE_ENVIRONMENT", "ENVIRONMENT"},
	"server.port":                {"SERVER_PORT", "HTTP_PORT"},
	"grpc.port":                  {"GRPC_PORT"},
	"notify.backend":             {"NOTIFY_BACKEND"},
	"notify.nats_url":            {"NOTIFY_NATS_URL", "NATS_URL"},
	"notify.kafka_brokers":       {"NOTIFY_KAFKA_BROKERS", "KAFKA_BROKERS"},
	"notify.redis_url":           {"NOTIFY_REDIS_URL", "REDIS_URL"},
	"identity.grpc_url":          {"IDENTITY_GRPC_URL"},
	"workflow.empty_flow_policy": {"WORKFLOW_EMPTY_FLOW_POLICY", "EMPTY_FLOW_POLICY"},
	"tracing.enabled":            {"TRACING_ENABLED"},
	"log.level":                  {"LOG_LEVEL"},
}

func bindAliases(v *viper.Viper) error {
	for key, envs := range envAliases {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindAliases(v); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.Database.Driver)
	}
	switch c.Notify.Backend {
	case "nats", "kafka", "redis", "noop":
	default:
		return fmt.Errorf("unsupported notify.backend %q", c.Notify.Backend)
	}
	switch c.Workflow.EmptyFlowPolicy {
	case "deny", "open":
	default:
		return fmt.Errorf("unsupported workflow.empty_flow_policy %q", c.Workflow.EmptyFlowPolicy)
	}
	if c.Server.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("server.port and grpc.port must be positive")
	}
	return nil
}
