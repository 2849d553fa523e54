package server

import "fmt"

// Config holds configuration for the HTTP ops server.
type Config struct {
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the API.
	ApiKey string `mapstructure:"api_key" default:""`
	// ReadTimeoutSeconds bounds reading a request, including the body.
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds" default:"15"`
}

// Address returns the listen address for the configured port.
func (c Config) Address() string {
	return ":" + c.Port
}

// Validate reports configuration that would leave the server unusable or unprotected.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("server port is empty")
	}
	if c.ApiKey == "" {
		return fmt.Errorf("server api key is empty; refusing to expose ops endpoints unauthenticated")
	}
	return nil
}
