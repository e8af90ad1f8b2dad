package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, PersistenceTypeMemory, cfg.PersistenceType)
	assert.Equal(t, "sha256", cfg.Hasher)
}

func TestTreeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *TreeConfig)
		wantErr []string
	}{
		{
			name:   "badger with path",
			modify: func(c *TreeConfig) { c.PersistenceType = PersistenceTypeBadger },
		},
		{
			name: "redis with address",
			modify: func(c *TreeConfig) {
				c.PersistenceType = PersistenceTypeRedis
				c.RedisAddress = "localhost:6379"
				c.RedisDB = 3
			},
		},
		{
			name:   "hasher names are case insensitive",
			modify: func(c *TreeConfig) { c.Hasher = "Keccak256" },
		},
		{
			name:    "missing persistence type",
			modify:  func(c *TreeConfig) { c.PersistenceType = "" },
			wantErr: []string{"persistenceType"},
		},
		{
			name:    "unknown persistence type",
			modify:  func(c *TreeConfig) { c.PersistenceType = "postgres" },
			wantErr: []string{"persistenceType", "postgres"},
		},
		{
			name: "badger without path",
			modify: func(c *TreeConfig) {
				c.PersistenceType = PersistenceTypeBadger
				c.DataPath = ""
			},
			wantErr: []string{"dataPath"},
		},
		{
			name: "redis without address and bad db",
			modify: func(c *TreeConfig) {
				c.PersistenceType = PersistenceTypeRedis
				c.RedisDB = 16
			},
			wantErr: []string{"redisAddress", "redisDB"},
		},
		{
			name:    "unknown hasher",
			modify:  func(c *TreeConfig) { c.Hasher = "md5" },
			wantErr: []string{"hasher", "md5"},
		},
		{
			name:    "empty hasher",
			modify:  func(c *TreeConfig) { c.Hasher = "" },
			wantErr: []string{"hasher"},
		},
		{
			name: "every problem is reported",
			modify: func(c *TreeConfig) {
				c.Hasher = "md5"
				c.CacheSize = -1
			},
			wantErr: []string{"hasher", "cacheSize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTreeConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestGetSupportedPersistenceTypesString(t *testing.T) {
	assert.Equal(t, "memory, badger, redis", GetSupportedPersistenceTypesString())
	assert.Contains(t, GetSupportedHashersString(), "blake3")
}
