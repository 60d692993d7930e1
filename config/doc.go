// Package config loads the nuvine service configuration from YAML.
//
// Every section starts from its package defaults; a file only needs the
// settings it changes. Durations are written as Go duration strings ("2s").
package config
