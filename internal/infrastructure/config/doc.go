// Package config handles loading and validating FarmRa Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FARMRA_* environment variables
//   - Validation of required fields and enumerated knobs
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, MQTT password, InfluxDB token) belong in the
//     environment or a .env file, not in the YAML file
//   - The JWT secret has no default and must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
