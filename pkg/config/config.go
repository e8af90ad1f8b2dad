package config

import (
	"fmt"
	"strings"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/hashers"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for tree configuration
const (
	EnvSMTPersistence    = "SMT_PERSISTENCE"
	EnvSMTDataPath       = "SMT_DATA_PATH"
	EnvSMTRedisAddress   = "SMT_REDIS_ADDRESS"
	EnvSMTRedisPassword  = "SMT_REDIS_PASSWORD"
	EnvSMTRedisDB        = "SMT_REDIS_DB"
	EnvSMTRedisKeyPrefix = "SMT_REDIS_KEY_PREFIX"
	EnvSMTHasher         = "SMT_HASHER"
	EnvSMTCacheSize      = "SMT_CACHE_SIZE"
	EnvSMTVerbose        = "SMT_VERBOSE"
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

// GetSupportedPersistenceTypes returns all supported storage backends
func GetSupportedPersistenceTypes() []PersistenceType {
	return []PersistenceType{
		PersistenceTypeMemory,
		PersistenceTypeBadger,
		PersistenceTypeRedis,
	}
}

// GetSupportedPersistenceTypesString returns supported storage backends for CLI help
func GetSupportedPersistenceTypesString() string {
	types := GetSupportedPersistenceTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

// GetSupportedHashersString returns supported hash plug-ins for CLI help
func GetSupportedHashersString() string {
	return strings.Join(hashers.Names, ", ")
}

const (
	DefaultDataPath  = "./smt-data"
	DefaultCacheSize = 4096
	maxRedisDB       = 15
)

// TreeConfig holds the configuration for opening a persistent tree
type TreeConfig struct {
	PersistenceType PersistenceType `json:"persistenceType" yaml:"persistenceType"`

	// DataPath is the badger directory
	DataPath string `json:"dataPath" yaml:"dataPath"`

	RedisAddress   string `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword  string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB        int    `json:"redisDB" yaml:"redisDB"`
	RedisKeyPrefix string `json:"redisKeyPrefix" yaml:"redisKeyPrefix"`

	// Hasher names the hash plug-in; see hashers.Names
	Hasher string `json:"hasher" yaml:"hasher"`

	// CacheSize is the number of node records kept in memory per record kind.
	// Zero disables the cache.
	CacheSize int `json:"cacheSize" yaml:"cacheSize"`

	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultTreeConfig returns an in-memory sha256 tree configuration
func DefaultTreeConfig() *TreeConfig {
	return &TreeConfig{
		PersistenceType: PersistenceTypeMemory,
		DataPath:        DefaultDataPath,
		Hasher:          hashers.Sha256,
		CacheSize:       DefaultCacheSize,
	}
}

// Validate checks every field and reports all problems at once
func (c *TreeConfig) Validate() error {
	var allErrors field.ErrorList

	switch c.PersistenceType {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if c.RedisDB < 0 || c.RedisDB > maxRedisDB {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, fmt.Sprintf("must be between 0-%d", maxRedisDB)))
		}
	case "":
		allErrors = append(allErrors, field.Required(field.NewPath("persistenceType"), "persistenceType is required"))
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType, GetSupportedPersistenceTypes()))
	}

	if c.Hasher == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("hasher"), "hasher is required"))
	} else if _, err := hashers.ByName(c.Hasher); err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("hasher"), c.Hasher, hashers.Names))
	}

	if c.CacheSize < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("cacheSize"), c.CacheSize, "must not be negative"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
