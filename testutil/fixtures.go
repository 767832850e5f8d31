package testutil

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"testing"
)

// ZipEntry describes one entry of a test archive.
type ZipEntry struct {
	Name string
	Body string
	// Dir marks a directory entry; Body is ignored.
	Dir bool
	// Symlink makes the entry a symbolic link pointing at Body.
	Symlink bool
	// Store disables compression for the entry.
	Store bool
}

// BuildZip creates an in-memory ZIP archive from the given entries, in order.
func BuildZip(t *testing.T, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		if e.Store {
			hdr.Method = zip.Store
		}
		switch {
		case e.Dir:
			hdr.SetMode(fs.ModeDir | 0o755)
		case e.Symlink:
			hdr.SetMode(fs.ModeSymlink | 0o777)
		default:
			hdr.SetMode(0o644)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("failed to add zip entry %q: %v", e.Name, err)
		}
		if e.Dir {
			continue
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("failed to write zip entry %q: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finalize zip: %v", err)
	}
	return buf.Bytes()
}

// BuildSPAZip creates a minimal single-page application archive with an
// index.html and a script, optionally nested under a wrapping folder.
func BuildSPAZip(t *testing.T, wrap, marker string) []byte {
	t.Helper()

	prefix := ""
	if wrap != "" {
		prefix = wrap + "/"
	}
	return BuildZip(t,
		ZipEntry{Name: prefix + "index.html", Body: "<!doctype html><div id=\"app\">" + marker + "</div>"},
		ZipEntry{Name: prefix + "assets/app.js", Body: "console.log(" + `"` + marker + `"` + ");"},
	)
}
