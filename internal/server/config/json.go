package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/identikit/identikit/internal/flagx"
	"github.com/identikit/identikit/internal/timex"
)

// JSONConfig is the DTO used only for reading JSON configuration files. It
// uses timex.Duration for interval fields, which parses both strings such as
// "15m" and integer nanoseconds; after unmarshalling, values are copied into
// the runtime Config.
type JSONConfig struct {
	EndpointAddr                string         `json:"endpoint_addr"`
	Backend                     string         `json:"backend"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	MaxAccessFailedCount        int            `json:"max_access_failed_count"`
	LockoutDuration             timex.Duration `json:"lockout_duration"`
}

// parseJSON overlays values from the JSON file named by the -c/-config flag,
// if any. A missing flag means no file is loaded; an unreadable or invalid
// file panics, since starting with half-applied configuration is worse than
// not starting.
func parseJSON(config *Config) {
	jsonConfigFile := flagx.JSONConfigFlag()
	if jsonConfigFile == "" {
		return
	}

	c := &JSONConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.Backend = c.Backend
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.MaxAccessFailedCount = c.MaxAccessFailedCount
	config.LockoutDuration = time.Duration(c.LockoutDuration.Duration)
}
