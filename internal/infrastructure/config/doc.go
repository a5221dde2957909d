// Package config loads and validates irrigationd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with IRRIGATION_* environment variables
//   - Validation of required fields and enumerations
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be supplied through
// the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Irrigation.Schedule.Timezone)
package config
