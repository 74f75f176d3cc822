package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// FileStore reads documents by path.
type FileStore interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// LocalFileStore implements FileStore using the local filesystem. When Root is
// set, relative paths resolve against it.
type LocalFileStore struct {
	Root string
}

// NewLocalFileStore creates a new LocalFileStore
func NewLocalFileStore(root string) *LocalFileStore {
	return &LocalFileStore{Root: root}
}

func (fs *LocalFileStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fs.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(fs.Root, path)
	}
	return os.ReadFile(path)
}

// Router dispatches on a path prefix such as "s3://" and falls back to a
// default store.
type Router struct {
	fallback FileStore
	prefixes []string
	stores   map[string]FileStore
}

func NewRouter(fallback FileStore) *Router {
	return &Router{fallback: fallback, stores: make(map[string]FileStore)}
}

// Handle routes paths beginning with prefix to store.
func (r *Router) Handle(prefix string, store FileStore) *Router {
	if _, ok := r.stores[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
	}
	r.stores[prefix] = store
	return r
}

func (r *Router) ReadFile(ctx context.Context, path string) ([]byte, error) {
	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p) {
			return r.stores[p].ReadFile(ctx, path)
		}
	}
	return r.fallback.ReadFile(ctx, path)
}

// Remote reports whether path is handled by a non-default store.
func (r *Router) Remote(path string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
