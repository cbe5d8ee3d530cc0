package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	FHIR          FHIRConfig
	Observe       ObserveConfig
	Server        ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// FHIRConfig holds the backend-system credential and endpoint locations for
// the upstream FHIR deployment. Exactly one of PrivateKey, PrivateKeyPath or
// PrivateKeyARN must be supplied.
type FHIRConfig struct {
	ClientID string `env:"FHIR_CLIENT_ID, required"`

	PrivateKey     string `env:"FHIR_PRIVATE_KEY"`
	PrivateKeyPath string `env:"FHIR_PRIVATE_KEY_PATH"`
	PrivateKeyARN  string `env:"FHIR_PRIVATE_KEY_ARN"`

	// KeyID is embedded in the assertion header so the token endpoint can
	// select the matching public key from the published JWKS.
	KeyID string `env:"FHIR_KEY_ID, default=chartbridge-key-1"`

	TokenURL string `env:"FHIR_TOKEN_URL, required"`
	BaseURL  string `env:"FHIR_BASE_URL, required"`

	// RequestTimeoutSeconds bounds every outbound call, token exchanges
	// included. There is no retry behaviour behind this timeout.
	RequestTimeoutSeconds int `env:"FHIR_REQUEST_TIMEOUT_SECS, default=30"`
}

// AuthorizationConfig controls inbound bearer authorization of the tool
// routes. Leaving IssuerURL empty disables inbound authorization entirely,
// which suits local agent deployments where the process boundary is trusted.
type AuthorizationConfig struct {
	Audience            string `env:"JWT_AUDIENCE, default=chartbridge"`
	IssuerURL           string `env:"JWT_ISSUER_URL"`
	ConfigurationStatic string `env:"JWT_JWKS_STATIC"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=chartbridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.FHIR.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid FHIR configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that a usable signing key source is configured.
func (c *FHIRConfig) Validate() error {
	sources := 0
	for _, s := range []string{c.PrivateKey, c.PrivateKeyPath, c.PrivateKeyARN} {
		if s != "" {
			sources++
		}
	}

	if sources == 0 {
		return fmt.Errorf("one of FHIR_PRIVATE_KEY, FHIR_PRIVATE_KEY_PATH or FHIR_PRIVATE_KEY_ARN is required")
	}
	if sources > 1 {
		return fmt.Errorf("only one private key source may be configured")
	}

	return nil
}
