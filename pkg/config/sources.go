package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceProfile carries per-channel defaults applied when a raw candidate
// omits sizing fields.
type SourceProfile struct {
	Channel      string  `yaml:"channel"`
	PositionSize float64 `yaml:"position_size"`
	Leverage     int     `yaml:"leverage"`
	MarginMode   string  `yaml:"margin_mode"`
	Confidence   float64 `yaml:"confidence"`
	DynamicSL    bool    `yaml:"dynamic_sl"`
}

type sourcesFile struct {
	Sources []SourceProfile `yaml:"sources"`
}

// LoadSources reads channel profiles from a YAML file, keyed by channel.
// A missing file is not an error; every source then uses the base defaults.
func LoadSources(path string) (map[string]SourceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]SourceProfile{}, nil
		}
		return nil, fmt.Errorf("read sources: %w", err)
	}
	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	out := make(map[string]SourceProfile, len(file.Sources))
	for _, p := range file.Sources {
		if p.Channel == "" {
			continue
		}
		out[p.Channel] = p
	}
	return out, nil
}
