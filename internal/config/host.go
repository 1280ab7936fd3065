package config

import "maps"

// HostConfig holds crawl settings for a single host.
type HostConfig struct {
	// Cookie is an HTTP cookie sent with every request to this host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers sent with every request to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the crawl depth when a seed is on this host.
	// Zero keeps the global depth.
	Depth int `yaml:"depth,omitempty"`

	// IgnorePatterns are glob patterns of URL paths whose links are not
	// followed.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict link following to matching URL paths.
	// Empty means every path not ignored is followed.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// File is the structure of the .webcrawler configuration file.
type File struct {
	// Defaults apply to every host unless overridden in Hosts.
	Defaults HostConfig `yaml:"defaults,omitempty"`

	// Hosts maps lower-case host names (without port) to their settings.
	Hosts map[string]HostConfig `yaml:"hosts,omitempty"`
}

// HostConfig returns the settings for host: the defaults, overridden field
// by field by the host entry if there is one. Headers are merged.
func (cf *File) HostConfig(host string) HostConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	hc, ok := cf.Hosts[host]
	if !ok {
		return result
	}

	if hc.Cookie != "" {
		result.Cookie = hc.Cookie
	}
	if hc.Depth != 0 {
		result.Depth = hc.Depth
	}
	if len(hc.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(hc.Headers))
		}
		maps.Copy(result.Headers, hc.Headers)
	}
	if len(hc.IgnorePatterns) > 0 {
		result.IgnorePatterns = hc.IgnorePatterns
	}
	if len(hc.FollowPatterns) > 0 {
		result.FollowPatterns = hc.FollowPatterns
	}
	return result
}
