// Package diff classifies every source component as NEW, CHANGED, or MATCH
// relative to the target environment. The comparison is source-centric:
// components that exist only in the target never surface.
package diff

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mdsync/mdsync/internal/fingerprint"
	"github.com/mdsync/mdsync/internal/store"
)

// typeFolders maps component types to the directory their files land in
// inside a file tree. Types absent here compare by timestamp only.
var typeFolders = map[string]string{
	"ApexClass":     "classes",
	"ApexTrigger":   "triggers",
	"Flow":          "flows",
	"CustomObject":  "objects",
	"Layout":        "layouts",
	"PermissionSet": "permissionsets",
	"FlexiPage":     "flexipages",
	"EmailTemplate": "email",
}

// extensions are probed in order when resolving a component's file.
var extensions = []string{
	"cls", "trigger", "flow", "object", "layout", "permissionset", "email", "flexipage",
}

// Engine computes the analysis from the stored inventories and the
// downloaded file trees, and persists the result as the current analysis.
type Engine struct {
	Store *store.Store
	Dir   string
}

// Analyze recomputes the full classification. It is a pure function of the
// two inventories and file trees; the stored result only caches it for
// cheap re-reading.
func (e *Engine) Analyze() ([]store.DiffRecord, error) {
	source, err := e.Store.ListInventory("source")
	if err != nil {
		return nil, fmt.Errorf("load source inventory: %w", err)
	}
	target, err := e.Store.ListInventory("target")
	if err != nil {
		return nil, fmt.Errorf("load target inventory: %w", err)
	}

	targetByKey := make(map[string]store.InventoryEntry, len(target))
	for _, t := range target {
		targetByKey[t.Type+"#"+t.FullName] = t
	}

	sourceDir := filepath.Join(e.Dir, "source")
	targetDir := filepath.Join(e.Dir, "target")

	records := make([]store.DiffRecord, 0, len(source))
	for _, item := range source {
		key := item.Type + "#" + item.FullName
		status := store.StatusNew

		if targetItem, ok := targetByKey[key]; ok {
			if item.IsFile {
				status = e.classifyFile(item, targetItem, sourceDir, targetDir)
			} else {
				status = classifyByTimestamp(item.LastModified, targetItem.LastModified)
			}
		}

		records = append(records, store.DiffRecord{
			FullName:     item.FullName,
			Type:         item.Type,
			Status:       status,
			UniqueKey:    key,
			Path:         item.Type + "/" + item.FullName,
			LastModified: item.LastModified,
			RemoteID:     item.RemoteID,
		})
	}

	if err := e.Store.ReplaceAnalysis(records); err != nil {
		return nil, fmt.Errorf("persist analysis: %w", err)
	}
	return records, nil
}

// classifyFile compares content fingerprints when the component's file can
// be located on both sides, otherwise falls back to timestamps.
func (e *Engine) classifyFile(item, targetItem store.InventoryEntry, sourceDir, targetDir string) string {
	folder, mapped := typeFolders[item.Type]
	if mapped {
		sPath := findFile(sourceDir, folder, item.FullName)
		tPath := findFile(targetDir, folder, item.FullName)
		if sPath != "" && tPath != "" {
			sData, sErr := os.ReadFile(sPath)
			tData, tErr := os.ReadFile(tPath)
			if sErr == nil && tErr == nil {
				if fingerprint.Equal(sData, tData) {
					return store.StatusMatch
				}
				return store.StatusChanged
			}
		}
	}
	return classifyByTimestamp(item.LastModified, targetItem.LastModified)
}

// findFile probes the known extensions for a component's file path.
func findFile(root, folder, fullName string) string {
	for _, ext := range extensions {
		p := filepath.Join(root, folder, fullName+"."+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// classifyByTimestamp reports CHANGED only for a strictly later source
// timestamp; equal or unparseable timestamps classify MATCH.
func classifyByTimestamp(source, target string) string {
	s := parseWhen(source)
	t := parseWhen(target)
	if s.After(t) {
		return store.StatusChanged
	}
	return store.StatusMatch
}

func parseWhen(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
