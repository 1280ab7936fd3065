// Package config provides the crawl configuration: defaults, validation,
// positional argument handling and the optional YAML file with per-host
// settings (headers, cookies, depth and link patterns).
package config
