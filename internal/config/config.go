package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Content struct {
		CacheSize   int `json:"cache_size"`   // objects held in the read cache
		CompressMin int `json:"compress_min"` // bytes below which payloads stay uncompressed
	} `json:"content"`

	Materialize struct {
		CacheSize          int `json:"cache_size"`          // materialized states held in memory
		CheckpointInterval int `json:"checkpoint_interval"` // full snapshot every N commits
	} `json:"materialize"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

func Default() *Config {
	var c Config
	c.Content.CacheSize = 1000
	c.Content.CompressMin = 1024
	c.Materialize.CacheSize = 64
	c.Materialize.CheckpointInterval = 50
	c.LogLevel = "info"
	return &c
}

func getConfigPath() string {
	if path := os.Getenv("BRANCHDB_CONFIG"); path != "" {
		return path
	}
	return "branchdb.json"
}

// Load reads the config file at path, falling back to defaults for any
// zero values. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}

	config := Default()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}
	applyDefaults(config)

	return config, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Content.CacheSize == 0 {
		c.Content.CacheSize = d.Content.CacheSize
	}
	if c.Content.CompressMin == 0 {
		c.Content.CompressMin = d.Content.CompressMin
	}
	if c.Materialize.CacheSize == 0 {
		c.Materialize.CacheSize = d.Materialize.CacheSize
	}
	if c.Materialize.CheckpointInterval == 0 {
		c.Materialize.CheckpointInterval = d.Materialize.CheckpointInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}
