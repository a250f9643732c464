// Package config handles loading and validating Deckvault Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DECKVAULT_* environment variables
//   - Validation of required fields (all errors reported at once)
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, admin password, broker credentials) belong in environment variables
//   - The config file should have restricted permissions (0600)
//   - An unset JWT secret falls back to a development default; the server logs a warning
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Auth.MaxSessionsPerUser)
package config
