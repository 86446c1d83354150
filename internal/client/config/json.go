package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/planbook/internal/flagx"
	"github.com/dmitrijs2005/planbook/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// may be written as "15m" or as integer nanoseconds.
type JsonConfig struct {
	ServerURL           string         `json:"server_url"`
	DatabasePath        string         `json:"database_path"`
	LogFile             string         `json:"log_file"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	BackoffMin          timex.Duration `json:"backoff_min"`
	BackoffMax          timex.Duration `json:"backoff_max"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	MaxAttempts         int            `json:"max_attempts"`
}

// parseJson overlays Config with the keys present in the JSON file named by
// -c/-config or $PLANBOOK_CONFIG. Keys missing from the file keep their
// current value. Read and decode errors panic.
func parseJson(cfg *Config) {
	path := flagx.ConfigFile(os.Args[1:], ConfigEnv)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.LogFile, jc.LogFile)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.BackoffMin, jc.BackoffMin)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)
	if jc.MaxAttempts > 0 {
		cfg.MaxAttempts = jc.MaxAttempts
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
