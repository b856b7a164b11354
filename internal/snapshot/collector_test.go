package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mdsync/mdsync/internal/archive"
	"github.com/mdsync/mdsync/internal/metadata"
	"github.com/mdsync/mdsync/internal/store"
)

func testCollector(t *testing.T) (*Collector, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &Collector{
		Store:      s,
		Dir:        t.TempDir(),
		APIVersion: "58.0",
		Poller:     metadata.Poller{Interval: time.Millisecond, MaxWait: time.Second},
	}, s
}

// orgFake serves a static component listing and one canned archive.
func orgFake(components map[string][]metadata.ListedComponent, zipB64 string) *metadata.Fake {
	return &metadata.Fake{
		ListFunc: func(ctx context.Context, typ, folder string) ([]metadata.ListedComponent, error) {
			key := typ
			if folder != "" {
				key = typ + "/" + folder
			}
			return components[key], nil
		},
		CheckRetrieveStatusFunc: func(ctx context.Context, id string) (*metadata.RetrieveResult, error) {
			return &metadata.RetrieveResult{Done: true, Status: "Succeeded", ZipFile: zipB64}, nil
		},
	}
}

func TestCollectInventoryAndFiles(t *testing.T) {
	c, s := testCollector(t)

	zipB64, err := archive.Build(map[string][]byte{
		"classes/Foo.cls": []byte("public class Foo {}"),
		"package.xml":     []byte("<Package/>"),
	})
	if err != nil {
		t.Fatalf("build archive: %v", err)
	}

	api := orgFake(map[string][]metadata.ListedComponent{
		"ApexClass": {
			{FullName: "Foo", ID: "01p1", LastModifiedDate: "2024-01-02T00:00:00.000Z"},
		},
		"ValidationRule": {
			{FullName: "Account.Req", ID: "03d1", LastModifiedDate: "2024-01-03T00:00:00.000Z"},
		},
	}, zipB64)

	var actions []string
	update := func(action string, percent int) {
		actions = append(actions, action)
		if percent < 0 || percent > 100 {
			t.Errorf("percent out of range: %d", percent)
		}
	}

	if err := c.Collect(context.Background(), "source", api, update); err != nil {
		t.Fatalf("collect: %v", err)
	}

	entries, err := s.ListInventory("source")
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}

	byKey := map[string]store.InventoryEntry{}
	for _, e := range entries {
		byKey[e.Type+"#"+e.FullName] = e
	}
	if e := byKey["ApexClass#Foo"]; !e.IsFile || e.RemoteID != "01p1" {
		t.Errorf("ApexClass#Foo = %+v", e)
	}
	if e := byKey["ValidationRule#Account.Req"]; e.IsFile {
		t.Errorf("child type marked as file: %+v", e)
	}

	data, err := os.ReadFile(filepath.Join(c.Dir, "source", "classes", "Foo.cls"))
	if err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if string(data) != "public class Foo {}" {
		t.Errorf("content = %q", data)
	}

	meta, _ := s.GetEnvMeta("source")
	if meta.LastSync == nil {
		t.Error("last sync not recorded")
	}

	var sawFetch bool
	for _, a := range actions {
		if strings.Contains(a, "ApexClass") {
			sawFetch = true
		}
	}
	if !sawFetch {
		t.Errorf("no progress update mentioned ApexClass: %v", actions)
	}
}

func TestCollectClearsStaleFiles(t *testing.T) {
	c, _ := testCollector(t)

	stale := filepath.Join(c.Dir, "source", "classes", "Old.cls")
	os.MkdirAll(filepath.Dir(stale), 0o755)
	os.WriteFile(stale, []byte("old"), 0o644)

	api := orgFake(nil, "")
	if err := c.Collect(context.Background(), "source", api, nil); err != nil {
		t.Fatalf("collect: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived a new collection run")
	}
}

func TestCollectMergesFolderScopedTypes(t *testing.T) {
	c, s := testCollector(t)

	zipB64, _ := archive.Build(map[string][]byte{"email/Sales/Welcome.email": []byte("hi")})
	api := orgFake(map[string][]metadata.ListedComponent{
		"EmailTemplate":       {{FullName: "Unfiled/Legacy", ID: "00X0"}},
		"EmailFolder":         {{FullName: "Sales"}},
		"EmailTemplate/Sales": {{FullName: "Sales/Welcome", ID: "00X1"}},
	}, zipB64)

	if err := c.Collect(context.Background(), "source", api, nil); err != nil {
		t.Fatalf("collect: %v", err)
	}

	entries, _ := s.ListInventory("source")
	names := map[string]bool{}
	for _, e := range entries {
		if e.Type == "EmailTemplate" {
			names[e.FullName] = true
		}
	}
	if !names["Unfiled/Legacy"] || !names["Sales/Welcome"] {
		t.Errorf("folder-scoped enumeration not merged: %v", names)
	}
}

func TestCollectSkipsFailingType(t *testing.T) {
	c, s := testCollector(t)

	zipB64, _ := archive.Build(map[string][]byte{"triggers/T.trigger": []byte("trigger T on A (before insert) {}")})
	api := &metadata.Fake{
		ListFunc: func(ctx context.Context, typ, folder string) ([]metadata.ListedComponent, error) {
			switch typ {
			case "ApexClass":
				return nil, errors.New("INSUFFICIENT_ACCESS")
			case "ApexTrigger":
				return []metadata.ListedComponent{{FullName: "T", ID: "01q1"}}, nil
			}
			return nil, nil
		},
		CheckRetrieveStatusFunc: func(ctx context.Context, id string) (*metadata.RetrieveResult, error) {
			return &metadata.RetrieveResult{Done: true, Status: "Succeeded", ZipFile: zipB64}, nil
		},
	}

	if err := c.Collect(context.Background(), "source", api, nil); err != nil {
		t.Fatalf("collect should tolerate per-type failures: %v", err)
	}

	entries, _ := s.ListInventory("source")
	for _, e := range entries {
		if e.Type == "ApexClass" {
			t.Errorf("failed type contributed entries: %+v", e)
		}
	}
	found := false
	for _, e := range entries {
		if e.Type == "ApexTrigger" && e.FullName == "T" {
			found = true
		}
	}
	if !found {
		t.Error("healthy type missing from inventory")
	}
}

func TestCollectToleratesFailedRetrieve(t *testing.T) {
	c, s := testCollector(t)

	api := &metadata.Fake{
		ListFunc: func(ctx context.Context, typ, folder string) ([]metadata.ListedComponent, error) {
			if typ == "ApexClass" {
				return []metadata.ListedComponent{{FullName: "Foo", ID: "01p1"}}, nil
			}
			return nil, nil
		},
		CheckRetrieveStatusFunc: func(ctx context.Context, id string) (*metadata.RetrieveResult, error) {
			return &metadata.RetrieveResult{Done: true, Status: "Failed"}, nil
		},
	}

	if err := c.Collect(context.Background(), "source", api, nil); err != nil {
		t.Fatalf("collect: %v", err)
	}

	// Enumerated entries survive even when their download failed.
	entries, _ := s.ListInventory("source")
	if len(entries) != 1 || entries[0].FullName != "Foo" {
		t.Errorf("inventory = %+v", entries)
	}
}

func TestCollectContinuesPastFailedChunk(t *testing.T) {
	c, s := testCollector(t)
	c.ChunkSize = 2

	zips := map[string]string{}
	for _, name := range []string{"A", "C", "E"} {
		zips["req-"+name], _ = archive.Build(map[string][]byte{
			"classes/" + name + ".cls": []byte("public class " + name + " {}"),
		})
	}

	api := &metadata.Fake{
		ListFunc: func(ctx context.Context, typ, folder string) ([]metadata.ListedComponent, error) {
			if typ == "ApexClass" {
				return []metadata.ListedComponent{
					{FullName: "A"}, {FullName: "B"}, {FullName: "C"}, {FullName: "D"}, {FullName: "E"},
				}, nil
			}
			return nil, nil
		},
		RetrieveFunc: func(ctx context.Context, pkg metadata.Package) (string, error) {
			// One request per chunk, keyed by its first member.
			return "req-" + pkg.Types[0].Members[0], nil
		},
		CheckRetrieveStatusFunc: func(ctx context.Context, id string) (*metadata.RetrieveResult, error) {
			if id == "req-C" {
				return &metadata.RetrieveResult{Done: true, Status: "Failed"}, nil
			}
			return &metadata.RetrieveResult{Done: true, Status: "Succeeded", ZipFile: zips[id]}, nil
		},
	}

	if err := c.Collect(context.Background(), "source", api, nil); err != nil {
		t.Fatalf("collect: %v", err)
	}

	// Chunks before and after the failed one still land on disk.
	for _, name := range []string{"A", "E"} {
		if _, err := os.Stat(filepath.Join(c.Dir, "source", "classes", name+".cls")); err != nil {
			t.Errorf("chunk containing %s not downloaded: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(c.Dir, "source", "classes", "C.cls")); !os.IsNotExist(err) {
		t.Error("failed chunk unexpectedly produced files")
	}

	// All five enumerated components stay in the inventory.
	entries, _ := s.ListInventory("source")
	if len(entries) != 5 {
		t.Errorf("inventory has %d entries, want 5", len(entries))
	}
}

func TestCollectChunksLargeTypes(t *testing.T) {
	c, _ := testCollector(t)
	c.ChunkSize = 2

	var chunks [][]string
	zipB64, _ := archive.Build(map[string][]byte{"classes/X.cls": []byte("x")})
	api := &metadata.Fake{
		ListFunc: func(ctx context.Context, typ, folder string) ([]metadata.ListedComponent, error) {
			if typ == "ApexClass" {
				return []metadata.ListedComponent{
					{FullName: "A"}, {FullName: "B"}, {FullName: "C"}, {FullName: "D"}, {FullName: "E"},
				}, nil
			}
			return nil, nil
		},
		RetrieveFunc: func(ctx context.Context, pkg metadata.Package) (string, error) {
			if len(pkg.Types) != 1 {
				t.Errorf("expected single-type package, got %d", len(pkg.Types))
			}
			chunks = append(chunks, pkg.Types[0].Members)
			return "req-1", nil
		},
		CheckRetrieveStatusFunc: func(ctx context.Context, id string) (*metadata.RetrieveResult, error) {
			return &metadata.RetrieveResult{Done: true, Status: "Succeeded", ZipFile: zipB64}, nil
		},
	}

	if err := c.Collect(context.Background(), "source", api, nil); err != nil {
		t.Fatalf("collect: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %v", len(chunks), chunks)
	}
	if len(chunks[0]) != 2 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes wrong: %v", chunks)
	}
}
