package settings

import (
	"fmt"
	"os"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/cespare/xxhash"
	"gopkg.in/yaml.v3"
)

// BackendConfig declares an object store. Secondary names another backend used as a read fallback.
type BackendConfig struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url"`
	Secondary string `yaml:"secondary,omitempty"`
}

// NamespaceConfig declares a tenant and the backend holding its objects.
type NamespaceConfig struct {
	ID            string        `yaml:"id"`
	Backend       string        `yaml:"backend"`
	Prefix        string        `yaml:"prefix,omitempty"`
	GcFrequency   time.Duration `yaml:"gcFrequency,omitempty"`
	EnableAliases bool          `yaml:"enableAliases,omitempty"`
}

// StorageConfig is the reloadable part of the configuration. Revision changes whenever the source bytes change.
type StorageConfig struct {
	Revision             string            `yaml:"-"`
	EnableGc             bool              `yaml:"enableGc"`
	EnableGcVerification bool              `yaml:"enableGcVerification"`
	Backends             []BackendConfig   `yaml:"backends"`
	Namespaces           []NamespaceConfig `yaml:"namespaces"`
}

func ParseStorageConfig(data []byte) (*StorageConfig, error) {
	cfg := &StorageConfig{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigurationError("could not parse storage config", err)
	}

	backendIDs := make(map[string]struct{}, len(cfg.Backends))

	for _, b := range cfg.Backends {
		if b.ID == "" {
			return nil, errors.NewConfigurationError("backend without id")
		}

		if _, ok := backendIDs[b.ID]; ok {
			return nil, errors.NewConfigurationError("duplicate backend %q", b.ID)
		}

		backendIDs[b.ID] = struct{}{}
	}

	namespaceIDs := make(map[string]struct{}, len(cfg.Namespaces))

	for _, ns := range cfg.Namespaces {
		if ns.ID == "" {
			return nil, errors.NewConfigurationError("namespace without id")
		}

		if _, ok := namespaceIDs[ns.ID]; ok {
			return nil, errors.NewConfigurationError("duplicate namespace %q", ns.ID)
		}

		namespaceIDs[ns.ID] = struct{}{}
	}

	cfg.Revision = fmt.Sprintf("%016x", xxhash.Sum64(data))

	return cfg, nil
}

func LoadStorageConfig(path string) (*StorageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("could not read storage config %s", path, err)
	}

	return ParseStorageConfig(data)
}

func (c *StorageConfig) FindBackend(id string) (*BackendConfig, bool) {
	for i := range c.Backends {
		if c.Backends[i].ID == id {
			return &c.Backends[i], true
		}
	}

	return nil, false
}

func (c *StorageConfig) FindNamespace(id string) (*NamespaceConfig, bool) {
	for i := range c.Namespaces {
		if c.Namespaces[i].ID == id {
			return &c.Namespaces[i], true
		}
	}

	return nil, false
}
