// Package config holds the harness Options: command line flags plus the environment (optionally loaded from a .env
// file). Options are validated once, before the renderer is touched, and resolve the run's mode, network config and
// training data path.
package config
