//go:build linux || darwin

// Package dynlib loads vendor shared libraries at runtime and binds their
// exported functions by name.
//
// Library locations checked (in order):
//   - the path in the library's environment override, if set
//   - VIDRENDER_LIB_PATH joined with the library name
//   - the bare name, resolved by the dynamic loader
//   - /usr/lib and /usr/local/lib
package dynlib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	// ErrSymbolMissing is returned when a required function is not exported.
	ErrSymbolMissing = errors.New("dynlib: symbol missing")
	// ErrNotFound is returned when no candidate path could be opened.
	ErrNotFound = errors.New("dynlib: library not found")
)

// LibPathEnv names a directory searched for every vendor library.
const LibPathEnv = "VIDRENDER_LIB_PATH"

// Binding ties a Go function variable to an exported symbol.
type Binding struct {
	Name string
	Fn   any // pointer to a func variable
}

// Library is an open shared object.
type Library struct {
	path string

	mu     sync.Mutex
	handle uintptr
}

// Candidates returns the paths Open tries for name, in order.
func Candidates(name, envVar string) []string {
	var paths []string
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" {
			paths = append(paths, p)
		}
	}
	if dir := os.Getenv(LibPathEnv); dir != "" {
		paths = append(paths, filepath.Join(dir, name))
	}
	paths = append(paths,
		name,
		filepath.Join("/usr/lib", name),
		filepath.Join("/usr/local/lib", name),
	)
	return paths
}

// Open loads the first candidate for name that the dynamic loader accepts.
func Open(name, envVar string) (*Library, error) {
	var errs []error
	for _, path := range Candidates(name, envVar) {
		lib, err := OpenPath(path)
		if err == nil {
			return lib, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%s: %w: %w", name, ErrNotFound, errors.Join(errs...))
}

// OpenPath loads exactly path.
func OpenPath(path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}
	return &Library{path: path, handle: handle}, nil
}

// Path returns the path the library was opened from.
func (l *Library) Path() string {
	return l.path
}

// Has reports whether the library exports name.
func (l *Library) Has(name string) bool {
	_, err := l.lookup(name)
	return err == nil
}

// Bind points fn at the exported symbol name. fn must be a pointer to a func
// variable whose signature matches the C function.
func (l *Library) Bind(fn any, name string) error {
	addr, err := l.lookup(name)
	if err != nil {
		return err
	}
	purego.RegisterFunc(fn, addr)
	return nil
}

// BindAll binds every entry and reports all missing symbols at once.
// Nothing is bound unless every symbol is present.
func (l *Library) BindAll(bindings []Binding) error {
	addrs := make([]uintptr, len(bindings))
	var errs []error
	for i, b := range bindings {
		addr, err := l.lookup(b.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		addrs[i] = addr
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, b := range bindings {
		purego.RegisterFunc(b.Fn, addrs[i])
	}
	return nil
}

// Missing returns the names the library does not export.
func (l *Library) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if !l.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Close unloads the library. Functions bound from it must not be called
// afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("dlclose %s: %w", l.path, err)
	}
	return nil
}

func (l *Library) lookup(name string) (uintptr, error) {
	l.mu.Lock()
	handle := l.handle
	l.mu.Unlock()
	if handle == 0 {
		return 0, fmt.Errorf("%s: library %s closed: %w", name, l.path, ErrSymbolMissing)
	}

	addr, err := purego.Dlsym(handle, name)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%s in %s: %w", name, l.path, ErrSymbolMissing)
	}
	return addr, nil
}

// Names returns the symbol names of bindings.
func Names(bindings []Binding) []string {
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Name
	}
	return names
}
