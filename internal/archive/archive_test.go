package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestUnpackStripsWrapperAndManifest(t *testing.T) {
	b64, err := Build(map[string][]byte{
		"classes/Foo.cls":          []byte("public class Foo {}"),
		"classes/Foo.cls-meta.xml": []byte("<ApexClass/>"),
		"package.xml":              []byte("<Package/>"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dir := t.TempDir()
	if err := Unpack(b64, dir); err != nil {
		t.Fatalf("unpack: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "classes", "Foo.cls"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "public class Foo {}" {
		t.Errorf("content = %q", data)
	}

	if _, err := os.Stat(filepath.Join(dir, "package.xml")); !os.IsNotExist(err) {
		t.Error("package.xml should not be extracted")
	}
	if _, err := os.Stat(filepath.Join(dir, "unpackaged")); !os.IsNotExist(err) {
		t.Error("wrapper directory should be stripped")
	}
}

func TestUnpackRejectsEscapingPaths(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	out, _ := w.Create("../escape.txt")
	out.Write([]byte("nope"))
	w.Close()
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	dir := t.TempDir()
	if err := Unpack(b64, dir); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); !os.IsNotExist(err) {
		t.Error("entry escaped the destination directory")
	}
}

func TestRepackReroots(t *testing.T) {
	b64, err := Build(map[string][]byte{
		"classes/Bar.cls": []byte("public class Bar {}"),
		"package.xml":     []byte("<Package/>"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	repacked, err := Repack(b64)
	if err != nil {
		t.Fatalf("repack: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(repacked)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	names := map[string]string{}
	for _, f := range r.File {
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		names[f.Name] = string(data)
	}

	if names["classes/Bar.cls"] != "public class Bar {}" {
		t.Errorf("re-rooted entry missing or wrong: %v", names)
	}
	if _, ok := names["package.xml"]; !ok {
		t.Error("repack should keep the manifest at the package root")
	}
	for name := range names {
		if filepath.IsAbs(name) || name[:1] == "/" {
			t.Errorf("unexpected absolute entry %q", name)
		}
	}
}
