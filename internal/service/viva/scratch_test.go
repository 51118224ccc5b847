package viva

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScratchSpoolAndRelease(t *testing.T) {
	root := t.TempDir()
	scratch, err := NewScratch(root, "abc")
	if err != nil {
		t.Fatalf("NewScratch err: %v", err)
	}
	if filepath.Base(scratch.Dir()) != "viva-abc" {
		t.Fatalf("unexpected dir %s", scratch.Dir())
	}

	blob, err := scratch.Spool([]byte("RIFF"), "")
	if err != nil {
		t.Fatalf("Spool err: %v", err)
	}
	if !strings.HasSuffix(blob.Path, ".wav") || blob.Size != 4 {
		t.Fatalf("unexpected blob %+v", blob)
	}

	f, err := blob.Open()
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "RIFF" {
		t.Fatalf("blob content = %q", data)
	}

	if err := blob.Release(); err != nil {
		t.Fatalf("Release err: %v", err)
	}
	if err := blob.Release(); err != nil {
		t.Fatalf("second Release err: %v", err)
	}

	if err := scratch.Remove(); err != nil {
		t.Fatalf("Remove err: %v", err)
	}
	if _, err := os.Stat(scratch.Dir()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present: %v", err)
	}
}

func TestSessionIDFromScratch(t *testing.T) {
	if id, ok := SessionIDFromScratch("viva-123"); !ok || id != "123" {
		t.Fatalf("got %q, %v", id, ok)
	}
	for _, name := range []string{"viva-", "other-123", ""} {
		if _, ok := SessionIDFromScratch(name); ok {
			t.Fatalf("%q should not parse", name)
		}
	}
}
