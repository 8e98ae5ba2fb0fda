package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// KVConfig holds configuration for the NATS KV durable store
type KVConfig struct {
	ServerURL    string
	BucketName   string
	Embedded     bool
	DataDir      string
	StartTimeout time.Duration
}

// kvStore implements DurableStore using NATS JetStream KV
type kvStore struct {
	config KVConfig
	server *server.Server
	conn   *nats.Conn
	kv     jetstream.KeyValue
	logger zerolog.Logger
}

// NewKVStore creates a durable store backed by a NATS JetStream KV bucket.
// With Embedded set it starts an in-process NATS server, which keeps tests
// and single-binary deployments free of external infrastructure.
func NewKVStore(config KVConfig, logger zerolog.Logger) (DurableStore, error) {
	store := &kvStore{
		config: config,
		logger: logger.With().Str("component", "natskv").Logger(),
	}

	if config.Embedded {
		if err := store.startEmbeddedServer(); err != nil {
			return nil, fmt.Errorf("failed to start embedded server: %w", err)
		}
	}

	serverURL := store.config.ServerURL
	if serverURL == "" {
		serverURL = nats.DefaultURL
	}

	conn, err := nats.Connect(serverURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		store.cleanup()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	store.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		store.cleanup()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bucketName := config.BucketName
	if bucketName == "" {
		bucketName = "presence-cache"
	}

	kv, err := js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket: bucketName,
		TTL:    time.Hour, // Backstop only, the facade expires entries itself
	})
	if err != nil {
		// Try to get existing bucket
		kv, err = js.KeyValue(context.Background(), bucketName)
		if err != nil {
			store.cleanup()
			return nil, fmt.Errorf("failed to create/get KV bucket: %w", err)
		}
	}
	store.kv = kv

	return store, nil
}

// Put stores raw bytes under a key
func (s *kvStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

// Get retrieves raw bytes by key, returning ErrNotFound for missing keys
func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		// Check for various "not found" error types
		if errors.Is(err, jetstream.ErrKeyNotFound) ||
			strings.Contains(err.Error(), "not found") ||
			strings.Contains(err.Error(), "no message found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if entry == nil || len(entry.Value()) == 0 {
		return nil, ErrNotFound
	}

	return entry.Value(), nil
}

// Delete removes a key
func (s *kvStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Keys lists all keys under the given prefix
func (s *kvStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "no keys found") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Close closes the store and cleans up resources
func (s *kvStore) Close() error {
	return s.cleanup()
}

// ServerURL returns the URL clients can use to reach the NATS server.
// Useful in embedded mode, where the port is chosen at startup.
func (s *kvStore) ServerURL() string {
	return s.config.ServerURL
}

// startEmbeddedServer starts an embedded NATS server with JetStream
func (s *kvStore) startEmbeddedServer() error {
	opts := &server.Options{
		Host:       "0.0.0.0",
		Port:       -1, // Random port for client connections
		JetStream:  true,
		ServerName: fmt.Sprintf("presence-cache-%d", time.Now().UnixNano()),
	}

	if s.config.DataDir != "" {
		opts.StoreDir = s.config.DataDir
		opts.JetStreamMaxMemory = 32 * 1024 * 1024
		opts.JetStreamMaxStore = 256 * 1024 * 1024
		if err := ensureDirectory(s.config.DataDir); err != nil {
			return fmt.Errorf("failed to ensure data directory: %w", err)
		}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go ns.Start()

	timeout := s.config.StartTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	s.logger.Info().Dur("timeout", timeout).Msg("Waiting for embedded NATS server.")

	start := time.Now()
	for {
		if ns.ReadyForConnections(100 * time.Millisecond) {
			break
		}
		if time.Since(start) >= timeout {
			ns.Shutdown()
			return fmt.Errorf("server failed to start within %v", timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.server = ns
	s.config.ServerURL = ns.ClientURL()
	s.logger.Info().Str("url", s.config.ServerURL).Msg("Embedded NATS server started.")

	return nil
}

// cleanup closes connections and shuts down the embedded server
func (s *kvStore) cleanup() error {
	if s.conn != nil {
		s.conn.Close()
	}

	if s.server != nil {
		s.server.Shutdown()
		s.server.WaitForShutdown()
	}

	return nil
}

// ensureDirectory creates the directory if it doesn't exist and verifies it's writable
func ensureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	testFile := dir + "/.write-test"
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}
