package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/config"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/logger"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/treeManager"
)

const demoSentence = "Alice sends Bob verifiable proofs using Sparse Merkle Tree"

// proofBundle is everything a verifier needs besides trusting the root
type proofBundle struct {
	Root   smt.Digest    `json:"root"`
	Hasher string        `json:"hasher"`
	Proof  hexutil.Bytes `json:"proof"`
	Leaves []smt.Leaf    `json:"leaves"`
}

func main() {
	app := &cli.App{
		Name:    "smt",
		Usage:   "Sparse Merkle Tree with compact batch proofs",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   fmt.Sprintf("Storage backend: %s", config.GetSupportedPersistenceTypesString()),
				Value:   config.PersistenceTypeMemory.String(),
				EnvVars: []string{config.EnvSMTPersistence},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				Value:   config.DefaultDataPath,
				EnvVars: []string{config.EnvSMTDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis server address (host:port)",
				EnvVars: []string{config.EnvSMTRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvSMTRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvSMTRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvSMTRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "hasher",
				Usage:   fmt.Sprintf("Hash function: %s", config.GetSupportedHashersString()),
				Value:   "sha256",
				EnvVars: []string{config.EnvSMTHasher},
			},
			&cli.IntFlag{
				Name:    "cache-size",
				Usage:   "Node records cached in memory, 0 disables the cache",
				Value:   config.DefaultCacheSize,
				EnvVars: []string{config.EnvSMTCacheSize},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvSMTVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "update",
				Usage:     "Set the value of one or more keys; a zero value deletes the key",
				ArgsUsage: "<key>=<value> [<key>=<value>...]",
				Action:    runUpdate,
			},
			{
				Name:      "get",
				Usage:     "Print the value stored at a key",
				ArgsUsage: "<key>",
				Action:    runGet,
			},
			{
				Name:   "root",
				Usage:  "Print the current root and tree state",
				Action: runRoot,
			},
			{
				Name:      "prove",
				Usage:     "Build a compiled proof for keys against the current root",
				ArgsUsage: "<key> [<key>...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "Write the proof bundle to this file instead of stdout",
					},
				},
				Action: runProve,
			},
			{
				Name:  "verify",
				Usage: "Verify a proof bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Usage:    "Proof bundle file, - for stdin",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Trusted root, defaults to the root recorded in the bundle",
					},
				},
				Action: runVerify,
			},
			{
				Name:   "validate",
				Usage:  "Recompute every stored digest reachable from the root",
				Action: runValidate,
			},
			{
				Name:   "demo",
				Usage:  "Build an in-memory tree and prove inclusion and non-inclusion",
				Action: runDemo,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

func parseTreeConfig(c *cli.Context) *config.TreeConfig {
	return &config.TreeConfig{
		PersistenceType: config.PersistenceType(c.String("persistence")),
		DataPath:        c.String("data-path"),
		RedisAddress:    c.String("redis-address"),
		RedisPassword:   c.String("redis-password"),
		RedisDB:         c.Int("redis-db"),
		RedisKeyPrefix:  c.String("redis-key-prefix"),
		Hasher:          c.String("hasher"),
		CacheSize:       c.Int("cache-size"),
		Verbose:         c.Bool("verbose"),
	}
}

// withTree opens the configured tree, runs fn and closes the tree
func withTree(c *cli.Context, fn func(tm *treeManager.TreeManager, l *zap.Logger) error) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	cfg := parseTreeConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tm, err := treeManager.NewTreeManager(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open tree: %w", err)
	}
	defer func() {
		if err := tm.Close(); err != nil {
			l.Sugar().Errorw("Failed to close tree", "error", err)
		}
	}()

	return fn(tm, l)
}

func parseLeaf(arg string) (smt.Leaf, error) {
	key, value, found := strings.Cut(arg, "=")
	if !found {
		return smt.Leaf{}, fmt.Errorf("expected <key>=<value>, got %q", arg)
	}
	k, err := smt.HexToDigest(key)
	if err != nil {
		return smt.Leaf{}, fmt.Errorf("invalid key %q: %w", key, err)
	}
	v, err := smt.HexToDigest(value)
	if err != nil {
		return smt.Leaf{}, fmt.Errorf("invalid value %q: %w", value, err)
	}
	return smt.Leaf{Key: k, Value: v}, nil
}

func parseKeys(args []string) ([]smt.Digest, error) {
	keys := make([]smt.Digest, 0, len(args))
	for _, arg := range args {
		k, err := smt.HexToDigest(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid key %q: %w", arg, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func runUpdate(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one <key>=<value> pair is required")
	}
	leaves := make([]smt.Leaf, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		leaf, err := parseLeaf(arg)
		if err != nil {
			return err
		}
		leaves = append(leaves, leaf)
	}

	return withTree(c, func(tm *treeManager.TreeManager, l *zap.Logger) error {
		root, err := tm.UpdateAll(leaves)
		if err != nil {
			return err
		}
		l.Sugar().Infow("Tree updated", "leaves", len(leaves), "root", root.Hex())
		fmt.Println(root.Hex())
		return nil
	})
}

func runGet(c *cli.Context) error {
	keys, err := parseKeys(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(keys) != 1 {
		return fmt.Errorf("exactly one key is required")
	}

	return withTree(c, func(tm *treeManager.TreeManager, _ *zap.Logger) error {
		value, err := tm.Get(keys[0])
		if err != nil {
			return err
		}
		fmt.Println(value.Hex())
		return nil
	})
}

func runRoot(c *cli.Context) error {
	return withTree(c, func(tm *treeManager.TreeManager, _ *zap.Logger) error {
		return writeJSON(os.Stdout, tm.State())
	})
}

func runProve(c *cli.Context) error {
	keys, err := parseKeys(c.Args().Slice())
	if err != nil {
		return err
	}

	return withTree(c, func(tm *treeManager.TreeManager, l *zap.Logger) error {
		compiled, leaves, err := tm.Prove(keys)
		if err != nil {
			return err
		}
		bundle := &proofBundle{
			Root:   tm.Root(),
			Hasher: tm.State().Hasher,
			Proof:  hexutil.Bytes(compiled),
			Leaves: leaves,
		}
		l.Sugar().Infow("Proof built", "keys", len(leaves), "proof_bytes", len(compiled))

		output := c.String("output")
		if output == "" {
			return writeJSON(os.Stdout, bundle)
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		return writeJSON(f, bundle)
	})
}

func readBundle(input string) (*proofBundle, error) {
	var data []byte
	var err error
	if input == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read proof bundle: %w", err)
	}

	var bundle proofBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse proof bundle: %w", err)
	}
	return &bundle, nil
}

func runVerify(c *cli.Context) error {
	bundle, err := readBundle(c.String("input"))
	if err != nil {
		return err
	}

	root := bundle.Root
	if r := c.String("root"); r != "" {
		if root, err = smt.HexToDigest(r); err != nil {
			return fmt.Errorf("invalid root: %w", err)
		}
	}

	// Verification needs no storage, only the hash plug-in the tree uses
	cfg := parseTreeConfig(c)
	cfg.PersistenceType = config.PersistenceTypeMemory
	if bundle.Hasher != "" {
		cfg.Hasher = bundle.Hasher
	}
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	tm, err := treeManager.NewTreeManager(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	defer func() { _ = tm.Close() }()

	ok, err := tm.Verify(root, smt.CompiledMerkleProof(bundle.Proof), bundle.Leaves)
	if err != nil {
		return fmt.Errorf("malformed proof: %w", err)
	}
	if !ok {
		return fmt.Errorf("proof does not match root %s", root.Hex())
	}
	fmt.Printf("✅ Proof verified against root %s for %d leaves\n", root.Hex(), len(bundle.Leaves))
	return nil
}

func runValidate(c *cli.Context) error {
	return withTree(c, func(tm *treeManager.TreeManager, _ *zap.Logger) error {
		if !tm.Validate() {
			return fmt.Errorf("tree at root %s is inconsistent", tm.Root().Hex())
		}
		fmt.Printf("✅ Tree at root %s is consistent\n", tm.Root().Hex())
		return nil
	})
}

func hashBytes(newHasher smt.HasherFactory, b []byte) smt.Digest {
	h := newHasher()
	h.WriteBytes(b)
	return h.Finish()
}

func runDemo(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	cfg := parseTreeConfig(c)
	cfg.PersistenceType = config.PersistenceTypeMemory
	tm, err := treeManager.NewTreeManager(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create tree: %w", err)
	}
	defer func() { _ = tm.Close() }()

	// Keys hash the words, values hash their position
	newHasher := tm.HasherFactory()
	words := strings.Fields(demoSentence)
	leaves := make([]smt.Leaf, len(words))
	for i, word := range words {
		var idx [8]byte
		binary.LittleEndian.PutUint64(idx[:], uint64(i))
		leaves[i] = smt.Leaf{Key: hashBytes(newHasher, []byte(word)), Value: hashBytes(newHasher, idx[:])}
	}
	root, err := tm.UpdateAll(leaves)
	if err != nil {
		return err
	}
	for i, leaf := range leaves {
		value, err := tm.Get(leaf.Key)
		if err != nil {
			return err
		}
		if value != leaf.Value {
			return fmt.Errorf("lookup of %q returned %s, want %s", words[i], value.Hex(), leaf.Value.Hex())
		}
	}
	fmt.Printf("🌳 Inserted %d words, root %s\n", len(words), root.Hex())

	for _, word := range []string{"Alice", "Eve"} {
		compiled, proven, err := tm.Prove([]smt.Digest{hashBytes(newHasher, []byte(word))})
		if err != nil {
			return err
		}
		ok, err := tm.Verify(root, compiled, proven)
		if err != nil {
			return err
		}

		kind := "inclusion"
		if proven[0].Value.IsZero() {
			kind = "non-inclusion"
		}
		fmt.Printf("🔍 %s proof for %q: %d bytes, verified=%v\n", kind, word, len(compiled), ok)
		fmt.Printf("   %s\n", hexutil.Encode(compiled))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
