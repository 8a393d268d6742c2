package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/marchandivan/pirobot/pkg/protocol"
)

// RobotProfile describes a robot: its name, its camera stream and the
// editable settings it exposes on the configuration topic.
type RobotProfile struct {
	Name     string                           `yaml:"name" json:"name"`
	Include  string                           `yaml:"include,omitempty" json:"include,omitempty"`
	Video    VideoProfile                     `yaml:"video" json:"video"`
	Settings map[string]protocol.SettingEntry `yaml:"settings" json:"settings"`
}

// VideoProfile describes the generated camera stream.
type VideoProfile struct {
	Width   int `yaml:"width" json:"width"`
	Height  int `yaml:"height" json:"height"`
	Quality int `yaml:"quality" json:"quality"`
}

// LoadRobotProfile loads a robot profile from the specified file path. An
// "include" names a base profile, relative to the same directory, whose
// settings are merged under the ones of this file.
func LoadRobotProfile(path string) (*RobotProfile, error) {
	profile, err := readProfile(path)
	if err != nil {
		return nil, err
	}

	if profile.Include != "" {
		base, err := readProfile(filepath.Join(filepath.Dir(path), profile.Include))
		if err != nil {
			return nil, fmt.Errorf("error loading included profile: %w", err)
		}
		profile.Settings = mergeSettings(base.Settings, profile.Settings)
		if profile.Name == "" {
			profile.Name = base.Name
		}
		if profile.Video == (VideoProfile{}) {
			profile.Video = base.Video
		}
	}

	profile.applyDefaults()
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func readProfile(path string) (*RobotProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading robot profile: %w", err)
	}
	var profile RobotProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("error parsing robot profile: %w", err)
	}
	return &profile, nil
}

// mergeSettings overlays right on left, field by field for keys in both.
func mergeSettings(left, right map[string]protocol.SettingEntry) map[string]protocol.SettingEntry {
	merged := make(map[string]protocol.SettingEntry, len(left)+len(right))
	for key, entry := range left {
		merged[key] = entry
	}
	for key, override := range right {
		entry, exists := merged[key]
		if !exists {
			merged[key] = override
			continue
		}
		if override.Type != "" {
			entry.Type = override.Type
		}
		if override.Category != "" {
			entry.Category = override.Category
		}
		if override.Default != nil {
			entry.Default = override.Default
		}
		if override.Choices != nil {
			entry.Choices = override.Choices
		}
		if override.NeedSetup != nil {
			entry.NeedSetup = override.NeedSetup
		}
		if override.Description != "" {
			entry.Description = override.Description
		}
		entry.Export = entry.Export || override.Export
		merged[key] = entry
	}
	return merged
}

func (p *RobotProfile) applyDefaults() {
	if p.Name == "" {
		p.Name = "PiRobot"
	}
	if p.Video.Width <= 0 {
		p.Video.Width = 320
	}
	if p.Video.Height <= 0 {
		p.Video.Height = 240
	}
	if p.Video.Quality <= 0 || p.Video.Quality > 100 {
		p.Video.Quality = 75
	}
	if p.Settings == nil {
		p.Settings = make(map[string]protocol.SettingEntry)
	}
	for key, entry := range p.Settings {
		if entry.Category == "" {
			entry.Category = "general"
		}
		p.Settings[key] = entry
	}
}

// Validate checks that every setting has a known type and a default of
// that type.
func (p *RobotProfile) Validate() error {
	for _, key := range p.SettingKeys() {
		entry := p.Settings[key]
		if !IsKnownType(entry.Type) {
			return fmt.Errorf("setting %s: unknown type %q", key, entry.Type)
		}
		if entry.Default == nil {
			continue
		}
		if _, err := ConvertValue(entry.Type, entry.Default); err != nil {
			return fmt.Errorf("setting %s: invalid default: %w", key, err)
		}
	}
	return nil
}

// SettingKeys returns the setting keys, sorted.
func (p *RobotProfile) SettingKeys() []string {
	keys := make([]string, 0, len(p.Settings))
	for key := range p.Settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GetSettingsByCategory returns setting keys grouped by category
func (p *RobotProfile) GetSettingsByCategory(category string) []string {
	var result []string
	for _, key := range p.SettingKeys() {
		if p.Settings[key].Category == category {
			result = append(result, key)
		}
	}
	return result
}
