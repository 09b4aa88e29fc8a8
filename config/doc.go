// Package config loads service configuration with Viper.
//
// Load searches the usual locations for config.yml (./cmd/<service>/,
// ./config/, ./) and a .env file, overlays environment variables and
// unmarshals into a struct embedding ServiceConfig:
//
//	var cfg Config
//	err := config.Load("fanoutd", &cfg, config.WithEnvPrefix("FANOUT"))
//
// With the FANOUT prefix, FANOUT_ORCHESTRATOR_RUN_TIMEOUT=30s sets
// orchestrator.run_timeout.
package config
