package taskvault

import "context"

// Backend is the storage abstraction the persistence writer, loader, and
// backup rotation write through. The primary backend is the local
// filesystem; S3 and GCS implementations serve as off-machine snapshot
// mirror targets.
//
// Keys are forward-slash relative paths ("tasks.json", "tasks.json.bak.1").
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping checks backend health
	Ping(ctx context.Context) error

	// Close releases resources held by the backend
	Close() error
}
