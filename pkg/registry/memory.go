package registry

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process registry. It is used on hosts without a native
// registry and in tests; exports are byte-stable for identical contents.
type Memory struct {
	mu   sync.Mutex
	keys map[string]*memKey // keyed by lower-cased canonical path
}

type memKey struct {
	path   string
	values map[string]NamedValue // keyed by lower-cased value name
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*memKey)}
}

func (m *Memory) ensureKey(canonical string) *memKey {
	id := strings.ToLower(canonical)
	k, ok := m.keys[id]
	if !ok {
		k = &memKey{path: canonical, values: make(map[string]NamedValue)}
		m.keys[id] = k
	}
	return k
}

// Set creates keyPath if needed and stores the named value.
func (m *Memory) Set(keyPath, name string, v Value) error {
	canonical, err := CanonicalKeyPath(keyPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureKey(canonical).values[strings.ToLower(name)] = NamedValue{Name: name, Value: v}
	return nil
}

// DeleteKey removes keyPath and all of its subkeys.
func (m *Memory) DeleteKey(keyPath string) error {
	canonical, err := CanonicalKeyPath(keyPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteTree(strings.ToLower(canonical))
	return nil
}

func (m *Memory) deleteTree(id string) {
	for k := range m.keys {
		if k == id || strings.HasPrefix(k, id+`\`) {
			delete(m.keys, k)
		}
	}
}

// subtree returns the keys at and below id, sorted by path.
func (m *Memory) subtree(id string) []*memKey {
	var out []*memKey
	for k, v := range m.keys {
		if k == id || strings.HasPrefix(k, id+`\`) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].path) < strings.ToLower(out[j].path)
	})
	return out
}

// ExportKey writes the subtree at keyPath to destFile. A missing key returns ErrKeyNotFound.
func (m *Memory) ExportKey(ctx context.Context, keyPath, destFile string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	canonical, err := CanonicalKeyPath(keyPath)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	keys := m.subtree(strings.ToLower(canonical))
	f := &File{}
	for _, k := range keys {
		names := make([]string, 0, len(k.values))
		for n := range k.values {
			names = append(names, n)
		}
		sort.Strings(names)
		rk := Key{Path: k.path}
		for _, n := range names {
			rk.Values = append(rk.Values, k.values[n])
		}
		f.Keys = append(f.Keys, rk)
	}
	m.mu.Unlock()

	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, keyPath)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(destFile), 0755); err != nil {
		return 0, fmt.Errorf("could not create export directory: %w", err)
	}
	if err := os.WriteFile(destFile, buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("could not write registry export %s: %w", destFile, err)
	}
	return int64(buf.Len()), nil
}

// ImportKey applies srcFile. Keys named in the file are merged into existing
// keys, [-key] sections delete subtrees and "name"=- entries delete values.
func (m *Memory) ImportKey(ctx context.Context, srcFile string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(srcFile)
	if err != nil {
		return 0, err
	}
	f, err := Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", srcFile, err)
	}

	// Validate every key path before touching state so a bad file changes nothing.
	canon := make([]string, len(f.Keys))
	for i, k := range f.Keys {
		if canon[i], err = CanonicalKeyPath(k.Path); err != nil {
			return 0, fmt.Errorf("%s: %w", srcFile, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range f.Keys {
		if k.Delete {
			m.deleteTree(strings.ToLower(canon[i]))
			continue
		}
		mk := m.ensureKey(canon[i])
		for _, nv := range k.Values {
			mk.values[strings.ToLower(nv.Name)] = nv
		}
		for _, n := range k.DeleteValues {
			delete(mk.values, strings.ToLower(n))
		}
	}
	return int64(len(data)), nil
}

// ListValues returns the rendered values directly under keyPath, or nil if the key does not exist.
func (m *Memory) ListValues(ctx context.Context, keyPath string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	canonical, err := CanonicalKeyPath(keyPath)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[strings.ToLower(canonical)]
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(k.values))
	for _, nv := range k.values {
		out[nv.Name] = nv.Value.Render()
	}
	return out, nil
}
