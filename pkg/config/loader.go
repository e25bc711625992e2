package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads a BaseConfig from a YAML file, starting from
// defaults so partial files are valid.
func LoadFromFile(path string) (*BaseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads a BaseConfig from YAML bytes.
func LoadFromBytes(data []byte) (*BaseConfig, error) {
	cfg := NewBaseConfig("", "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
