// Package search scans a downloaded environment's file tree for a keyword.
package search

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdsync/mdsync/internal/store"
)

// Result is one file containing the query.
type Result struct {
	FileName string `json:"fileName"`
	Snippet  string `json:"snippet"`
	RemoteID string `json:"id,omitempty"`
}

// Scanner searches environment directories under Dir.
type Scanner struct {
	Store *store.Store
	Dir   string
}

// Scan walks env's file tree and returns every file whose content contains
// query, case-insensitively. A missing environment directory yields an empty
// result set, not an error. Unreadable files are skipped.
func (s *Scanner) Scan(ctx context.Context, env, query string) ([]Result, error) {
	root := filepath.Join(s.Dir, env)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return []Result{}, nil
	}

	ids, err := s.remoteIDs(env)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	results := []Result{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		idx := strings.Index(strings.ToLower(string(content)), needle)
		if idx < 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		results = append(results, Result{
			FileName: rel,
			Snippet:  snippet(string(content), idx),
			RemoteID: ids[componentName(rel)],
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", env, err)
	}
	return results, nil
}

// remoteIDs maps component names to their remote ids for annotation.
func (s *Scanner) remoteIDs(env string) (map[string]string, error) {
	entries, err := s.Store.ListInventory(env)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	ids := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.RemoteID != "" {
			ids[e.FullName] = e.RemoteID
		}
	}
	return ids, nil
}

// componentName derives the component name from a relative file path:
// the base name up to its first dot, so "classes/Foo.cls-meta.xml" and
// "classes/Foo.cls" both map to "Foo".
func componentName(rel string) string {
	base := filepath.Base(rel)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// snippet extracts a short context window around the match, with newlines
// flattened to spaces.
func snippet(content string, idx int) string {
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + 60
	if end > len(content) {
		end = len(content)
	}
	window := strings.ReplaceAll(content[start:end], "\n", " ")
	window = strings.ReplaceAll(window, "\r", " ")
	return "..." + window + "..."
}
