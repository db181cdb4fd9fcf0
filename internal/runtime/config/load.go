package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names a TOML or YAML file read by Load before the environment.
const EnvConfigFile = "GLUE_CONFIG_FILE"

// Environment variables read by ApplyEnv.
const (
	EnvDevPort           = "GLUE_DEV_PORT"
	EnvListenHost        = "GLUE_LISTEN_HOST"
	EnvAuthorityURL      = "GLUE_AUTHORITY_URL"
	EnvCredentialTimeout = "GLUE_CREDENTIAL_TIMEOUT"
	EnvDeploymentHeader  = "GLUE_DEPLOYMENT_HEADER"
	EnvSupervisorAddress = "GLUE_SUPERVISOR_ADDR"
	EnvConsoleLogFile    = "GLUE_CONSOLE_LOG_FILE"
	EnvMetricsEnabled    = "GLUE_METRICS_ENABLED"
	EnvTracingEnabled    = "GLUE_TRACING_ENABLED"
	EnvIngressTransport  = "GLUE_INGRESS_TRANSPORT"
	EnvIngressTopic      = "GLUE_INGRESS_TOPIC"
	EnvIngressReplyTopic = "GLUE_INGRESS_REPLY_TOPIC"
	EnvIngressNoReply    = "GLUE_INGRESS_NO_REPLY"
	EnvKafkaBrokers      = "GLUE_KAFKA_BROKERS"
	EnvKafkaGroup        = "GLUE_KAFKA_CONSUMER_GROUP"
	EnvRabbitMQURL       = "GLUE_RABBITMQ_URL"
	EnvNATSURL           = "GLUE_NATS_URL"
	EnvHTTPServerAddress = "GLUE_HTTP_SERVER_ADDRESS"
	EnvHTTPPublisherURL  = "GLUE_HTTP_PUBLISHER_URL"
	EnvAWSRegion         = "GLUE_AWS_REGION"
	EnvAWSAccountID      = "GLUE_AWS_ACCOUNT_ID"
	EnvAWSAccessKeyID    = "GLUE_AWS_ACCESS_KEY_ID"
	EnvAWSSecretKey      = "GLUE_AWS_SECRET_ACCESS_KEY"
	EnvAWSEndpoint       = "GLUE_AWS_ENDPOINT"
)

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the file named by GLUE_CONFIG_FILE, when set, and applies the
// environment on top of it.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv(EnvConfigFile); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg with the environment variables that are set.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		EnvListenHost:        &cfg.ListenHost,
		EnvAuthorityURL:      &cfg.AuthorityURL,
		EnvDeploymentHeader:  &cfg.DeploymentHeader,
		EnvSupervisorAddress: &cfg.SupervisorAddress,
		EnvConsoleLogFile:    &cfg.ConsoleLogFile,
		EnvIngressTransport:  &cfg.IngressTransport,
		EnvIngressTopic:      &cfg.IngressTopic,
		EnvIngressReplyTopic: &cfg.IngressReplyTopic,
		EnvKafkaGroup:        &cfg.KafkaConsumerGroup,
		EnvRabbitMQURL:       &cfg.RabbitMQURL,
		EnvNATSURL:           &cfg.NATSURL,
		EnvHTTPServerAddress: &cfg.HTTPServerAddress,
		EnvHTTPPublisherURL:  &cfg.HTTPPublisherURL,
		EnvAWSRegion:         &cfg.AWSRegion,
		EnvAWSAccountID:      &cfg.AWSAccountID,
		EnvAWSAccessKeyID:    &cfg.AWSAccessKeyID,
		EnvAWSSecretKey:      &cfg.AWSSecretAccessKey,
		EnvAWSEndpoint:       &cfg.AWSEndpoint,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvDevPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDevPort, err)
		}
		cfg.DevPort = port
	}
	if v, ok := os.LookupEnv(EnvCredentialTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCredentialTimeout, err)
		}
		cfg.CredentialTimeout = d
	}
	bools := map[string]*bool{
		EnvMetricsEnabled: &cfg.MetricsEnabled,
		EnvTracingEnabled: &cfg.TracingEnabled,
		EnvIngressNoReply: &cfg.IngressNoReply,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	if v, ok := os.LookupEnv(EnvKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// durations holds the fields files spell as duration strings.
type durations struct {
	CredentialTimeout string `toml:"credential_timeout" yaml:"credential_timeout"`
}

// LoadFile reads a TOML (.toml) or YAML (.yaml, .yml) configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		unmarshal = toml.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}

	cfg := &Config{}
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	var d durations
	if err := unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if d.CredentialTimeout != "" {
		if cfg.CredentialTimeout, err = time.ParseDuration(d.CredentialTimeout); err != nil {
			return nil, fmt.Errorf("config: credential_timeout: %w", err)
		}
	}
	return cfg, nil
}
