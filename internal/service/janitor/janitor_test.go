package janitor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

type liveSet map[string]bool

func (l liveSet) Has(id string) bool { return l[id] }
func (l liveSet) Count() int         { return len(l) }

func mkdirAged(t *testing.T, root, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(path, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "utterance-1.wav"), []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func remaining(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSweepRemovesOnlyOrphanedStaleScratch(t *testing.T) {
	root := t.TempDir()
	mkdirAged(t, root, "viva-orphan", 2*time.Hour)
	mkdirAged(t, root, "viva-live", 2*time.Hour)
	mkdirAged(t, root, "viva-fresh", time.Minute)
	mkdirAged(t, root, "other-dir", 2*time.Hour)
	if err := os.WriteFile(filepath.Join(root, "viva-file"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	j := New(root, "@every 10m", time.Hour, liveSet{"live": true})
	removed, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	want := []string{"other-dir", "viva-file", "viva-fresh", "viva-live"}
	got := remaining(t, root)
	if len(got) != len(want) {
		t.Fatalf("remaining = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("remaining = %v, want %v", got, want)
		}
	}
}

func TestSweepMissingRoot(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "absent"), "@every 1m", time.Minute, liveSet{})
	if _, err := j.Sweep(context.Background()); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New(t.TempDir(), "every ten minutes", time.Minute, liveSet{})
	if err := j.Start(); err == nil {
		t.Fatal("expected schedule error")
	}
	j.Stop(context.Background())
}

func TestStartAndStop(t *testing.T) {
	j := New(t.TempDir(), "@every 1h", time.Minute, liveSet{})
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
}
