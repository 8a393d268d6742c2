package services

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/marchandivan/pirobot/pkg/config"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/status"
)

var (
	// ErrUnknownSetting is returned for a key the robot did not report.
	ErrUnknownSetting = errors.New("unknown robot setting")
	ErrInvalidYAML    = errors.New("invalid YAML format")
)

// CommandSender sends robot commands, i.e. a connection.Client.
type CommandSender interface {
	SendCommand(cmd protocol.Command) error
}

// SettingsService edits the robot settings over the configuration topic.
// Reads come from the status cache, which the robot replies refresh.
type SettingsService interface {
	Refresh() error
	Loaded() bool
	Get(key string) (protocol.SettingEntry, bool)
	Settings() map[string]protocol.SettingEntry
	ByCategory() map[string][]string
	Update(key string, value interface{}) error
	Reset(key string) error
	ExportYAML() ([]byte, error)
	ImportYAML(data []byte) (int, error)
	PersistConfig(path string) error
}

type settingsService struct {
	sender CommandSender
	cache  *status.Cache
	logger customlog.Logger
}

// NewSettingsService creates a SettingsService reading from cache.
func NewSettingsService(sender CommandSender, cache *status.Cache, logger customlog.Logger) (SettingsService, error) {
	if sender == nil {
		return nil, fmt.Errorf("settings service needs a command sender")
	}
	if cache == nil {
		cache = status.Default
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &settingsService{sender: sender, cache: cache, logger: logger}, nil
}

// Refresh asks the robot for its settings.
func (s *settingsService) Refresh() error {
	s.logger.Debugf("Requesting robot configuration")
	return s.sender.SendCommand(protocol.ConfigurationGet{})
}

// Loaded reports whether the robot sent its settings at least once.
func (s *settingsService) Loaded() bool {
	return len(s.cache.Snapshot().Settings) > 0
}

func (s *settingsService) Get(key string) (protocol.SettingEntry, bool) {
	entry, ok := s.cache.Snapshot().Settings[key]
	return entry, ok
}

// Settings returns the cached entries. The map must not be modified.
func (s *settingsService) Settings() map[string]protocol.SettingEntry {
	return s.cache.Snapshot().Settings
}

func (s *settingsService) ByCategory() map[string][]string {
	return s.cache.Snapshot().SettingsByCategory()
}

// Update validates value against the cached entry, when there is one, and
// sends it. The robot answers with the full configuration.
func (s *settingsService) Update(key string, value interface{}) error {
	settings := s.cache.Snapshot().Settings
	if len(settings) > 0 {
		entry, ok := settings[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
		}
		converted, err := config.ConvertValue(entry.Type, value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		if len(entry.Choices) > 0 && !inChoices(converted, entry.Choices) {
			return fmt.Errorf("setting %s: %w: %v is not one of %v", key, config.ErrInvalidValue, converted, entry.Choices)
		}
		value = converted
	}

	s.logger.Infof("Updating setting %s to %v", key, value)
	return s.sender.SendCommand(protocol.ConfigurationUpdate{Key: key, Value: value})
}

// Reset deletes the stored value so the robot falls back to the default.
func (s *settingsService) Reset(key string) error {
	if settings := s.cache.Snapshot().Settings; len(settings) > 0 {
		if _, ok := settings[key]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
		}
	}
	s.logger.Infof("Resetting setting %s", key)
	return s.sender.SendCommand(protocol.ConfigurationDelete{Key: key})
}

// ExportYAML returns the current values as a key: value YAML document.
func (s *settingsService) ExportYAML() ([]byte, error) {
	settings := s.cache.Snapshot().Settings
	if len(settings) == 0 {
		return nil, fmt.Errorf("robot configuration not loaded")
	}
	values := make(map[string]interface{}, len(settings))
	for key, entry := range settings {
		values[key] = entry.Value
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("error encoding settings: %w", err)
	}
	return data, nil
}

// ImportYAML sends an update for every key of a document produced by
// ExportYAML. Values equal to the current one are skipped. It returns the
// number of updates sent.
func (s *settingsService) ImportYAML(data []byte) (int, error) {
	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	current := s.cache.Snapshot().Settings
	sent := 0
	var errs []error
	for _, key := range keys {
		if entry, ok := current[key]; ok && fmt.Sprint(entry.Value) == fmt.Sprint(values[key]) {
			continue
		}
		if err := s.Update(key, values[key]); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// PersistConfig writes ExportYAML to path.
func (s *settingsService) PersistConfig(path string) error {
	data, err := s.ExportYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.logger.Errorf("Error writing settings file '%s': %v", path, err)
		return fmt.Errorf("error writing settings file '%s': %w", path, err)
	}
	s.logger.Infof("Saved robot settings to %s", path)
	return nil
}

func inChoices(value interface{}, choices []interface{}) bool {
	for _, choice := range choices {
		if fmt.Sprint(choice) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
