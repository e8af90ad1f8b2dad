package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixBranch      = "smt:branch:"
	keyPrefixLeaf        = "smt:leaf:"
	keyTreeState         = "smt:tree:state"
	keySchemaVersion     = "smt:metadata:schema_version"
	currentSchemaVersion = "v1"

	// operationTimeout bounds every round trip to the server
	operationTimeout = 5 * time.Second
)

// RedisPersistence is a persistence implementation using Redis.
// Provides shared storage so several processes can serve proofs for one tree.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys, so several trees can
	// share one database. "tenant-a:" results in keys like
	// "tenant-a:smt:branch:0x...".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) branchKey(node smt.Digest) string {
	return r.prefixKey(keyPrefixBranch + node.Hex())
}

func (r *RedisPersistence) leafKey(node smt.Digest) string {
	return r.prefixKey(keyPrefixLeaf + node.Hex())
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX keeps concurrent first starts from racing
	if _, err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Result(); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// load reads the value at key; nil data means not found.
func (r *RedisPersistence) load(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetBranch retrieves a branch record by digest
func (r *RedisPersistence) GetBranch(node smt.Digest) (*smt.BranchNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.load(r.branchKey(node))
	if err != nil {
		return nil, fmt.Errorf("failed to load branch %s: %w", node, err)
	}
	if data == nil {
		return nil, nil
	}

	branch, err := persistence.UnmarshalBranchNode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal branch %s: %w", node, err)
	}
	return branch, nil
}

// GetLeaf retrieves a leaf record by digest
func (r *RedisPersistence) GetLeaf(node smt.Digest) (*smt.LeafNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.load(r.leafKey(node))
	if err != nil {
		return nil, fmt.Errorf("failed to load leaf %s: %w", node, err)
	}
	if data == nil {
		return nil, nil
	}

	leaf, err := persistence.UnmarshalLeafNode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaf %s: %w", node, err)
	}
	return leaf, nil
}

// InsertBranch stores a branch record under its digest
func (r *RedisPersistence) InsertBranch(node smt.Digest, branch *smt.BranchNode) error {
	if branch == nil {
		return fmt.Errorf("cannot insert nil BranchNode")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalBranchNode(branch)
	if err != nil {
		return fmt.Errorf("failed to marshal branch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.branchKey(node), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to insert branch %s: %w", node, err)
	}
	return nil
}

// InsertLeaf stores a leaf record under its digest
func (r *RedisPersistence) InsertLeaf(node smt.Digest, leaf *smt.LeafNode) error {
	if leaf == nil {
		return fmt.Errorf("cannot insert nil LeafNode")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalLeafNode(leaf)
	if err != nil {
		return fmt.Errorf("failed to marshal leaf: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.leafKey(node), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to insert leaf %s: %w", node, err)
	}
	return nil
}

// RemoveBranch deletes a branch record (idempotent)
func (r *RedisPersistence) RemoveBranch(node smt.Digest) error {
	return r.remove(r.branchKey(node))
}

// RemoveLeaf deletes a leaf record (idempotent)
func (r *RedisPersistence) RemoveLeaf(node smt.Digest) error {
	return r.remove(r.leafKey(node))
}

func (r *RedisPersistence) remove(key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// WriteBatch applies all record changes of one update in a MULTI/EXEC transaction
func (r *RedisPersistence) WriteBatch(batch *smt.Batch) error {
	if batch == nil {
		return fmt.Errorf("cannot write nil Batch")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	values := make([]interface{}, 0, 2*(len(batch.InsertedBranches)+len(batch.InsertedLeaves)))
	for i := range batch.InsertedLeaves {
		e := &batch.InsertedLeaves[i]
		data, err := persistence.MarshalLeafNode(&e.Leaf)
		if err != nil {
			return fmt.Errorf("failed to marshal leaf: %w", err)
		}
		values = append(values, r.leafKey(e.Node), data)
	}
	for i := range batch.InsertedBranches {
		e := &batch.InsertedBranches[i]
		data, err := persistence.MarshalBranchNode(&e.Branch)
		if err != nil {
			return fmt.Errorf("failed to marshal branch: %w", err)
		}
		values = append(values, r.branchKey(e.Node), data)
	}

	removed := make([]string, 0, len(batch.RemovedBranches)+len(batch.RemovedLeaves))
	for _, node := range batch.RemovedLeaves {
		removed = append(removed, r.leafKey(node))
	}
	for _, node := range batch.RemovedBranches {
		removed = append(removed, r.branchKey(node))
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.MSet(ctx, values...)
		}
		if len(removed) > 0 {
			pipe.Del(ctx, removed...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	return nil
}

// SaveTreeState persists tree state
func (r *RedisPersistence) SaveTreeState(state *persistence.TreeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil TreeState")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalTreeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal TreeState: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefixKey(keyTreeState), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save TreeState: %w", err)
	}
	return nil
}

// LoadTreeState retrieves tree state
func (r *RedisPersistence) LoadTreeState() (*persistence.TreeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.load(r.prefixKey(keyTreeState))
	if err != nil {
		return nil, fmt.Errorf("failed to load TreeState: %w", err)
	}
	if data == nil {
		return nil, nil // First run
	}

	state, err := persistence.UnmarshalTreeState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal TreeState: %w", err)
	}
	return state, nil
}

// Close closes the Redis connection
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
