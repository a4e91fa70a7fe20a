// Package config loads and validates the graylogic-lifx configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then GRAYLOGIC_* environment variables. Validate reports every problem
// at once rather than stopping at the first.
//
// Secrets (MQTT password, InfluxDB token) belong in the environment, not
// in the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/lifx.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.LIFX.BroadcastAddress)
package config
