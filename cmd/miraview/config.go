package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the settings shared by the export and serve
// subcommands. Flags override whatever the file sets.
type Config struct {
	ScanRoot   string `yaml:"scan_root"`
	OutputDir  string `yaml:"output_dir"`
	DBPath     string `yaml:"db_path"`
	Upscale    int    `yaml:"upscale"`
	Use8Bit    bool   `yaml:"use_8bit"`
	ScanAll    bool   `yaml:"scan_all"`
	GroupByTop bool   `yaml:"group_by_top_level_folder"`
	Strict     bool   `yaml:"strict"`
	Workers    int    `yaml:"workers"`
	ListenAddr string `yaml:"listen_addr"`
	StaticDir  string `yaml:"static_dir"`
}

func defaultConfig() Config {
	return Config{
		ScanRoot:   "mri_scans",
		OutputDir:  "exported_images",
		DBPath:     "dicom_metadata.db",
		Upscale:    1,
		Workers:    1,
		ListenAddr: ":8000",
	}
}

// loadConfig reads a YAML config file over the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
