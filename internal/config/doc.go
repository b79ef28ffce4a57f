// Package config holds node settings, loads them from YAML and checks them
// before anything is started.
package config
