package config

import "time"

// Config holds runtime settings for the bagqueue CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the queue gRPC endpoint.
//   - AccessToken: bearer token sent as access_token metadata.
//   - RequestTimeout: deadline applied to each call.
type Config struct {
	ServerEndpointAddr string
	AccessToken        string
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RequestTimeout = 30 * time.Second
}

// Load applies defaults and then overlays the JSON file at path, if any.
// Command-line flags are applied on top by the caller.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
