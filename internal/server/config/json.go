package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/planbook/internal/flagx"
	"github.com/dmitrijs2005/planbook/internal/timex"
)

// JsonConfig is the DTO read from the JSON config file. Durations accept
// both "720h" and integer nanoseconds.
type JsonConfig struct {
	EndpointAddr                string         `json:"endpoint_addr"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
}

// parseJson overlays config with the keys present in the file named by
// -c/-config or $PLANBOOK_SERVER_CONFIG. Missing keys keep their value.
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	path := flagx.ConfigFile(os.Args[1:], ConfigEnv)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
}
