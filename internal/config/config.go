// Package config supplies vendor credentials and defaults from the
// environment, plus optional named report presets from sqanalyze.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sqanalyze/internal/export"
	"sqanalyze/internal/squadcast"
)

// Settings holds vendor access configuration and export defaults. All values
// come from SQUADCAST_* environment variables (or anything else bound into
// viper by the CLI).
type Settings struct {
	RefreshToken string
	AuthURL      string
	BaseAPI      string
	TeamID       string
	AssigneeID   string
	Statuses     []string
	DefaultStart string
	DefaultEnd   string
}

// LoadSettings reads settings from viper. Defaults for the auth and API
// endpoints are applied here so callers never see empty URLs.
func LoadSettings() Settings {
	viper.SetDefault("auth-url", squadcast.DefaultAuthURL)
	viper.SetDefault("base-api", squadcast.DefaultBaseAPI)
	return Settings{
		RefreshToken: viper.GetString("refresh-token"),
		AuthURL:      viper.GetString("auth-url"),
		BaseAPI:      viper.GetString("base-api"),
		TeamID:       viper.GetString("team-id"),
		AssigneeID:   viper.GetString("assignee-id"),
		Statuses:     export.NormalizeStatuses([]string{viper.GetString("status")}),
		DefaultStart: viper.GetString("start-time"),
		DefaultEnd:   viper.GetString("end-time"),
	}
}

// RequireRefreshToken fails when no credential is configured.
func (s Settings) RequireRefreshToken() error {
	if s.RefreshToken == "" {
		return export.ConfigError{Msg: "SQUADCAST_REFRESH_TOKEN is required"}
	}
	return nil
}

// Report is a named analyze preset.
type Report struct {
	GroupBy string `yaml:"group_by"`
	Top     int    `yaml:"top"`
}

// File models sqanalyze.yml.
type File struct {
	Reports map[string]Report `yaml:"reports"`
}

// Path returns the preset file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sqanalyze.yml")
}

// LoadOptional returns nil,nil if the preset file does not exist.
func LoadOptional(workspace string) (*File, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates preset config from raw YAML bytes.
func FromYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid preset yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate ensures every preset is usable.
func (f *File) Validate() error {
	for name, r := range f.Reports {
		if name == "" {
			return fmt.Errorf("reports contains an empty preset name")
		}
		if r.GroupBy == "" {
			return fmt.Errorf("report %s: group_by is required", name)
		}
		if r.Top < 0 {
			return fmt.Errorf("report %s: top must not be negative", name)
		}
	}
	return nil
}

// Report resolves a preset by name.
func (f *File) Report(name string) (Report, error) {
	if f == nil {
		return Report{}, fmt.Errorf("no sqanalyze.yml in workspace; report %s unavailable", name)
	}
	r, ok := f.Reports[name]
	if !ok {
		return Report{}, fmt.Errorf("report %s not defined in sqanalyze.yml", name)
	}
	return r, nil
}
