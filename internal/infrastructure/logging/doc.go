// Package logging provides structured logging for graylogic-lifx.
//
// It wraps log/slog with two output formats and a pair of default fields
// (service, version) on every entry:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("gateway connected", "site", siteID, "addr", addr)
//
// Never log the MQTT password or the InfluxDB token.
package logging
