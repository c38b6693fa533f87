package env

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Registry maps storage paths to open environment cores. Handles opened on the
// same path share one engine, one writer and one catalog of named databases.
//
// Thread-safety: all methods may be called concurrently.
type Registry struct {
	mu    sync.Mutex
	cores map[string]*core
	anon  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cores: make(map[string]*core)}
}

// Open returns a handle on the environment at path, opening it if this
// registry has no open handle on it yet. An empty path opens a private
// in-memory environment (engines memory, pebble and leveldb only).
func (r *Registry) Open(path string, opts Options) (*Environment, error) {
	opts = opts.withDefaults()

	key := ""
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", path, err)
		}
		path, key = abs, abs
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cores[key]; ok && key != "" {
		if c.opts.Engine != opts.Engine {
			return nil, fmt.Errorf("%w: %s is open with engine %s", ErrIncompatibleOptions, path, c.opts.Engine)
		}
		c.refs++
		Logger.Debugf("sharing environment %s (%d handles)", path, c.refs)
		return &Environment{core: c}, nil
	}

	if key == "" {
		r.anon++
		key = fmt.Sprintf("memory:%d", r.anon)
	}
	c, err := openCore(r, key, path, opts)
	if err != nil {
		return nil, err
	}
	c.refs = 1
	r.cores[key] = c
	Logger.Infof("opened %s environment %s", opts.Engine, c.name())
	return &Environment{core: c}, nil
}

// Len returns the number of open environment cores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cores)
}

// Close closes every environment of the registry, regardless of open handles.
func (r *Registry) Close() error {
	r.mu.Lock()
	cores := r.cores
	r.cores = make(map[string]*core)
	r.mu.Unlock()

	var errs []error
	for _, c := range cores {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// release drops one reference of c and closes it with the last one
func (r *Registry) release(c *core) error {
	r.mu.Lock()
	c.refs--
	last := c.refs <= 0
	if last && r.cores[c.key] == c {
		delete(r.cores, c.key)
	}
	r.mu.Unlock()

	if !last {
		return nil
	}
	return c.close()
}
