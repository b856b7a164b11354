// Package archive handles the base64 zip payloads the remote metadata API
// exchanges: unpacking retrieve results into a local tree and re-rooting
// retrieved archives into deployable packages.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// wrapperPrefix is the top-level directory the remote wraps every retrieved
// entry in.
const wrapperPrefix = "unpackaged/"

// manifestName is the package descriptor bundled with every archive. It is
// metadata about the request, not component content.
const manifestName = "package.xml"

// Unpack extracts a retrieved base64 archive into destDir, stripping the
// wrapper directory from each entry path and discarding the manifest.
func Unpack(zipBase64, destDir string) error {
	r, err := open(zipBase64)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimPrefix(f.Name, wrapperPrefix)
		if name == "" || strings.HasSuffix(name, manifestName) {
			continue
		}
		// Reject entries that would escape destDir.
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("mkdir for %s: %w", name, err)
		}
		data, err := readEntry(f)
		if err != nil {
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}

// Repack re-roots a retrieved archive by stripping the wrapper directory so
// the result deploys as a single package. The manifest is kept: the deploy
// call needs it at the package root.
func Repack(zipBase64 string) (string, error) {
	r, err := open(zipBase64)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimPrefix(f.Name, wrapperPrefix)
		if name == "" {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return "", fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		out, err := w.Create(name)
		if err != nil {
			return "", fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := out.Write(data); err != nil {
			return "", fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Build assembles a base64 archive from in-memory files, each entry prefixed
// with the remote's wrapper directory. Used to fabricate retrieve payloads.
func Build(files map[string][]byte) (string, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		out, err := w.Create(wrapperPrefix + name)
		if err != nil {
			return "", fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := out.Write(data); err != nil {
			return "", fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func open(zipBase64 string) (*zip.Reader, error) {
	raw, err := base64.StdEncoding.DecodeString(zipBase64)
	if err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return r, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
