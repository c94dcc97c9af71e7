package config

import (
	"maps"
	"net/url"
	"strings"

	"github.com/nao1215/webimg/internal/model"
)

// SiteConfig holds per-site harvest settings. Unset fields fall back to
// the file defaults and then to the command line.
type SiteConfig struct {
	// BaseURL restricts followed links to this prefix.
	BaseURL string `yaml:"baseUrl,omitempty"`

	// Depth overrides the crawl depth. Nil keeps the global value.
	Depth *int `yaml:"depth,omitempty"`

	// MinSize is a WIDTHxHEIGHT minimum asset size.
	MinSize string `yaml:"minSize,omitempty"`

	// UsePageURL overrides attribution. Nil keeps the global value.
	UsePageURL *bool `yaml:"usePageUrl,omitempty"`

	// Cookie is sent with every request to the site, e.g. "a=1; b=2".
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers sent to the site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are path globs of pages not to follow.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns, when set, restrict followed pages to matching paths.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// File is the layout of .webimg.yaml.
type File struct {
	// Defaults apply to every site.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Sites maps a host (optionally with port) to its settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// GetSiteConfig returns the settings for the site of rawURL: the defaults
// overlaid with the entry for "host:port" or, failing that, "host".
func (cf *File) GetSiteConfig(rawURL string) SiteConfig {
	if cf == nil {
		return SiteConfig{}
	}
	key, hostname := siteKeys(rawURL)
	if site, ok := cf.Sites[key]; ok {
		return mergeSiteConfig(cf.Defaults, site)
	}
	if site, ok := cf.Sites[hostname]; ok {
		return mergeSiteConfig(cf.Defaults, site)
	}
	return mergeSiteConfig(cf.Defaults, SiteConfig{})
}

// SiteKey returns the key under which rawURL's site is grouped.
func SiteKey(rawURL string) string {
	key, _ := siteKeys(rawURL)
	return key
}

func siteKeys(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL, rawURL
	}
	return strings.ToLower(u.Host), strings.ToLower(u.Hostname())
}

// mergeSiteConfig overlays override on defaults. Header maps are merged.
func mergeSiteConfig(defaults, override SiteConfig) SiteConfig {
	result := defaults
	result.Headers = maps.Clone(defaults.Headers)

	if override.BaseURL != "" {
		result.BaseURL = override.BaseURL
	}
	if override.Depth != nil {
		result.Depth = override.Depth
	}
	if override.MinSize != "" {
		result.MinSize = override.MinSize
	}
	if override.UsePageURL != nil {
		result.UsePageURL = override.UsePageURL
	}
	if override.Cookie != "" {
		result.Cookie = override.Cookie
	}
	if len(override.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(override.Headers))
		}
		maps.Copy(result.Headers, override.Headers)
	}
	if len(override.IgnorePatterns) > 0 {
		result.IgnorePatterns = override.IgnorePatterns
	}
	if len(override.FollowPatterns) > 0 {
		result.FollowPatterns = override.FollowPatterns
	}
	return result
}

// Apply returns scope with the site's settings applied.
func (s SiteConfig) Apply(scope model.Scope) (model.Scope, error) {
	if s.BaseURL != "" {
		scope.BaseURL = s.BaseURL
	}
	if s.Depth != nil {
		scope.MaxDepth = *s.Depth
	}
	if s.UsePageURL != nil {
		scope.UsePageURL = *s.UsePageURL
	}
	if s.MinSize != "" {
		size, err := ParseMinSize(s.MinSize)
		if err != nil {
			return scope, err
		}
		scope.MinSize = size
	}
	if scope.MaxDepth < 0 {
		return scope, ErrInvalidDepth
	}
	return scope, nil
}
