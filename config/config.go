package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Storage backend selectors accepted in StorageBackend.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	NetworkName    string `toml:"NetworkName"`
	// OwnerAddress is the hex identity that controls the admin allow-list.
	OwnerAddress string `toml:"OwnerAddress"`
	// IndexerDSN enables the relational event indexer when non-empty.
	IndexerDSN string `toml:"IndexerDSN"`
	LogEnv     string `toml:"LogEnv"`
	LogFile    string `toml:"LogFile"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./gridfund-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "gridfund-local"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "":
		cfg.StorageBackend = BackendLevelDB
	case BackendLevelDB, BackendBolt, BackendMemory:
		cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	default:
		return nil, fmt.Errorf("config file %s names unknown storage backend %q", path, cfg.StorageBackend)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8545",
		DataDir:        "./gridfund-data",
		StorageBackend: BackendLevelDB,
		NetworkName:    "gridfund-local",
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
