// Package snapshot collects a full inventory and content snapshot of one
// environment: every tracked component type is enumerated, and file-bearing
// types are bulk-downloaded into the environment's file tree.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mdsync/mdsync/internal/archive"
	"github.com/mdsync/mdsync/internal/metadata"
	"github.com/mdsync/mdsync/internal/store"
)

// defaultChunkSize bounds members per retrieve request; the remote rejects
// oversized manifests.
const defaultChunkSize = 1500

// UpdateFunc receives progress milestones (action text, percent).
type UpdateFunc func(action string, percent int)

// Collector runs collection for one environment at a time. A run replaces
// both the environment's file tree and its stored inventory wholesale.
type Collector struct {
	Store      *store.Store
	Dir        string // root of the per-environment file trees
	APIVersion string
	ChunkSize  int
	Poller     metadata.Poller
}

// Collect enumerates and downloads env's components via api. Per-type
// failures are logged and skipped; storage is only mutated after the file
// tree reset, and the inventory is swapped in one transaction at the end.
func (c *Collector) Collect(ctx context.Context, env string, api metadata.API, update UpdateFunc) error {
	if update == nil {
		update = func(string, int) {}
	}
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	envDir := filepath.Join(c.Dir, env)
	if err := os.RemoveAll(envDir); err != nil {
		return fmt.Errorf("reset file tree for %s: %w", env, err)
	}
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return fmt.Errorf("create file tree for %s: %w", env, err)
	}

	slog.Info("starting snapshot", "env", env)

	var entries []store.InventoryEntry
	total := len(FileTypes) + len(ChildTypes)
	step := 0

	for _, typ := range FileTypes {
		step++
		percent := step * 100 / total
		update(fmt.Sprintf("Fetching %s from %s...", typ, env), percent)

		items, err := c.listAll(ctx, api, typ)
		if err != nil {
			slog.Warn("enumeration failed, skipping type", "env", env, "type", typ, "error", err)
			continue
		}
		if len(items) == 0 {
			continue
		}

		members := make([]string, 0, len(items))
		for _, it := range items {
			entries = append(entries, store.InventoryEntry{
				FullName:     it.FullName,
				Type:         typ,
				LastModified: it.LastModifiedDate,
				RemoteID:     it.ID,
				IsFile:       true,
			})
			members = append(members, it.FullName)
		}

		for i := 0; i < len(members); i += chunkSize {
			end := i + chunkSize
			if end > len(members) {
				end = len(members)
			}
			update(fmt.Sprintf("Downloading %s (%d/%d)...", typ, i, len(members)), percent)

			if err := c.retrieveChunk(ctx, api, typ, members[i:end], envDir); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("retrieve failed, skipping chunk", "env", env, "type", typ, "chunk", i/chunkSize, "error", err)
				continue
			}
		}
	}

	for _, typ := range ChildTypes {
		step++
		percent := step * 100 / total
		update(fmt.Sprintf("Listing %s...", typ), percent)

		items, err := c.listAll(ctx, api, typ)
		if err != nil {
			slog.Warn("enumeration failed, skipping type", "env", env, "type", typ, "error", err)
			continue
		}
		for _, it := range items {
			entries = append(entries, store.InventoryEntry{
				FullName:     it.FullName,
				Type:         typ,
				LastModified: it.LastModifiedDate,
				RemoteID:     it.ID,
			})
		}
	}

	if err := c.Store.ReplaceInventory(env, entries); err != nil {
		return fmt.Errorf("persist inventory for %s: %w", env, err)
	}
	if err := c.Store.SetLastSync(env, time.Now()); err != nil {
		return fmt.Errorf("record sync time for %s: %w", env, err)
	}

	slog.Info("snapshot complete", "env", env, "components", len(entries))
	return nil
}

// listAll enumerates every instance of one type, walking folders first for
// folder-organized types. Folder-level failures are tolerated; the result is
// whatever could be enumerated.
func (c *Collector) listAll(ctx context.Context, api metadata.API, typ string) ([]metadata.ListedComponent, error) {
	var all []metadata.ListedComponent

	items, rootErr := api.List(ctx, typ, "")
	if rootErr == nil {
		all = append(all, items...)
	}

	folderType, organized := folderTypes[typ]
	if !organized {
		return all, rootErr
	}

	folders, err := api.List(ctx, folderType, "")
	if err != nil {
		slog.Warn("folder enumeration failed", "type", typ, "error", err)
		return all, nil
	}
	for _, folder := range folders {
		inFolder, err := api.List(ctx, typ, folder.FullName)
		if err != nil {
			slog.Warn("folder listing failed", "type", typ, "folder", folder.FullName, "error", err)
			continue
		}
		all = append(all, inFolder...)
	}
	return all, nil
}

// retrieveChunk downloads one manifest chunk and unpacks it into envDir.
func (c *Collector) retrieveChunk(ctx context.Context, api metadata.API, typ string, members []string, envDir string) error {
	pkg := metadata.Package{
		Types:   []metadata.PackageType{{Name: typ, Members: members}},
		Version: c.APIVersion,
	}
	id, err := api.Retrieve(ctx, pkg)
	if err != nil {
		return fmt.Errorf("submit retrieve: %w", err)
	}

	res, err := c.Poller.WaitRetrieve(ctx, api, id)
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return fmt.Errorf("retrieve %s finished with status %q", id, res.Status)
	}
	if err := archive.Unpack(res.ZipFile, envDir); err != nil {
		return fmt.Errorf("unpack retrieve %s: %w", id, err)
	}
	return nil
}
