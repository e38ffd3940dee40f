package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DetectionFile is the on-disk override for the built-in detection rules.
// Only the sections present in the file take effect; everything else keeps
// its default.
type DetectionFile struct {
	// Keywords maps category name to its keyword list, replacing the
	// built-in list for that category.
	Keywords map[string][]string `yaml:"keywords"`

	// Weights override the per-source fusion weights.
	Weights struct {
		Vulnerability float64 `yaml:"vulnerability"`
		Network       float64 `yaml:"network"`
		Intent        float64 `yaml:"intent"`
	} `yaml:"weights"`
}

// LoadDetectionFile parses a detection YAML file.
func LoadDetectionFile(path string) (*DetectionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read detection file: %w", err)
	}
	var df DetectionFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse detection file %s: %w", path, err)
	}
	return &df, nil
}
