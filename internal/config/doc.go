// Package config loads the reqpipe CLI configuration from a TOML or YAML
// file and turns it into client options. A missing file yields defaults.
package config
