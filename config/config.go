package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Routing    RoutingConfig    `yaml:"routing"`
	Geocode    GeocodeConfig    `yaml:"geocode"`
	Redis      RedisConfig      `yaml:"redis"`
	Rider      RiderConfig      `yaml:"rider"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type TelemetryConfig struct {
	BrokerURL        string `yaml:"broker_url"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds"`
	ReconnectSeconds int    `yaml:"reconnect_seconds"`
}

type RoutingConfig struct {
	OSRMBaseURL string `yaml:"osrm_base_url"`
}

type GeocodeConfig struct {
	NominatimBaseURL string `yaml:"nominatim_base_url"`
	UserAgent        string `yaml:"user_agent"`
	Country          string `yaml:"country"`
	CacheTTLSeconds  int    `yaml:"cache_ttl_seconds"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RiderConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	RiderID  string `yaml:"rider_id"`

	// Position feed policy. Anything in 5-15s and 0-20m is a supported
	// operating point.
	PositionMinIntervalSeconds    int `yaml:"position_min_interval_seconds"`
	PositionMinDisplacementMeters int `yaml:"position_min_displacement_meters"`
}

type PeripheralConfig struct {
	Enabled            bool `yaml:"enabled"`
	ScanTimeoutSeconds int  `yaml:"scan_timeout_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
