// Package store persists run artifacts: the summary tree, the design
// document and the checkpoint database.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Tree mirrors the directory layout of a source. Directories map to nested
// Trees and files map to their summary.
type Tree map[string]any

// Entry is one file of a flattened tree.
type Entry struct {
	Path    string
	Summary string
}

// Insert stores summary under a slash-separated path, creating directories as
// needed. A file that collides with an existing directory is rejected.
func (t Tree) Insert(path, summary string) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return fmt.Errorf("insert: empty path")
	}
	cur := t
	for _, dir := range parts[:len(parts)-1] {
		next, ok := cur[dir]
		if !ok {
			sub := Tree{}
			cur[dir] = sub
			cur = sub
			continue
		}
		sub, ok := asTree(next)
		if !ok {
			return fmt.Errorf("insert %s: %s is a file", path, dir)
		}
		cur[dir] = sub
		cur = sub
	}
	name := parts[len(parts)-1]
	if existing, ok := cur[name]; ok {
		if _, isDir := asTree(existing); isDir {
			return fmt.Errorf("insert %s: is a directory", path)
		}
	}
	cur[name] = summary
	return nil
}

// Flatten lists every file depth first with names sorted at each level.
func (t Tree) Flatten() []Entry {
	var out []Entry
	t.walk("", &out)
	return out
}

func (t Tree) walk(prefix string, out *[]Entry) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := name
		if prefix != "" {
			p = prefix + "/" + name
		}
		switch v := t[name].(type) {
		case string:
			*out = append(*out, Entry{Path: p, Summary: v})
		default:
			if sub, ok := asTree(v); ok {
				sub.walk(p, out)
			}
		}
	}
}

// asTree accepts both Tree and the map type produced by json.Unmarshal.
func asTree(v any) (Tree, bool) {
	switch m := v.(type) {
	case Tree:
		return m, true
	case map[string]any:
		return Tree(m), true
	}
	return nil, false
}

// SaveJSON writes the tree with four-space indentation.
func (t Tree) SaveJSON(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

// LoadJSON reads a tree written by SaveJSON.
func LoadJSON(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", path, err)
	}
	t := Tree(raw)
	if err := t.check(""); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", path, err)
	}
	return t, nil
}

func (t Tree) check(prefix string) error {
	for name, v := range t {
		switch v.(type) {
		case string:
		default:
			sub, ok := asTree(v)
			if !ok {
				return fmt.Errorf("%s%s: expected string or object, got %T", prefix, name, v)
			}
			if err := sub.check(prefix + name + "/"); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
