package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// VoiceProfile is a named bundle of session parameters. Satellites can
// switch the active profile mid-session with a set-voice message.
type VoiceProfile struct {
	Name         string   `json:"name" yaml:"name"`
	Voice        string   `json:"voice" yaml:"voice"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt"`
}

// ScanProfiles reads every *.yaml file in profilesDir as a voice
// profile. Files that fail to parse or name an unknown voice are
// skipped, not fatal.
func ScanProfiles(profilesDir string) ([]VoiceProfile, error) {
	profiles := []VoiceProfile{}
	if strings.TrimSpace(profilesDir) == "" {
		return profiles, nil
	}
	if _, err := os.Stat(profilesDir); err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, err
	}

	err := filepath.WalkDir(profilesDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".yaml") && !strings.HasSuffix(d.Name(), ".yml") {
			return nil
		}
		profile, err := ReadProfile(path)
		if err != nil {
			return nil
		}
		profiles = append(profiles, profile)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// ReadProfile parses a single voice profile file.
func ReadProfile(path string) (VoiceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VoiceProfile{}, err
	}
	var profile VoiceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return VoiceProfile{}, err
	}
	if profile.Name == "" {
		profile.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if profile.Voice == "" {
		profile.Voice = "alloy"
	}
	if !IsValidVoice(profile.Voice) {
		return VoiceProfile{}, fmt.Errorf("profile %s: unknown voice %q", path, profile.Voice)
	}
	if profile.Temperature != nil && (*profile.Temperature < 0 || *profile.Temperature > 2) {
		return VoiceProfile{}, fmt.Errorf("profile %s: temperature %v out of range", path, *profile.Temperature)
	}
	return profile, nil
}

// FindProfile returns the profile with the given name.
func FindProfile(profiles []VoiceProfile, name string) (VoiceProfile, bool) {
	for _, profile := range profiles {
		if profile.Name == name {
			return profile, true
		}
	}
	return VoiceProfile{}, false
}
