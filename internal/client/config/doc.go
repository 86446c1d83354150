// Package config loads runtime configuration for the planbook client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file named by -c/-config or $PLANBOOK_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string    base URL of the server
//	-d string    SQLite database path
//	-l string    log file path
//	-i duration  online check interval
//	-p duration  periodic sync interval
//	-t duration  per-request timeout
//	-m int       max send attempts before an outbox item is parked
//
// # JSON schema
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "database_path": "planbook.db",
//	  "log_file": "planbook.log",
//	  "online_check_interval": "3s",
//	  "sync_interval": "15m",
//	  "backoff_min": "2s",
//	  "backoff_max": "5m",
//	  "request_timeout": "30s",
//	  "max_attempts": 0
//	}
package config
