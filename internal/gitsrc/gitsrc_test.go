package gitsrc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// newTaggedRepo creates a local repository with one commit tagged tag.
func newTaggedRepo(t *testing.T, tag string) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "version.py"), []byte("major = 4\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("version.py"); err != nil {
		t.Fatalf("add: %v", err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.org", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := repo.CreateTag(tag, hash, nil); err != nil {
		t.Fatalf("tag: %v", err)
	}
	return dir
}

func TestCloneTag(t *testing.T) {
	src := newTaggedRepo(t, "4.9.9-stable")
	dest := filepath.Join(t.TempDir(), "4.9.9-test")

	client := NewClient(src, 0)
	if err := client.CloneTag(context.Background(), "4.9.9-stable", dest); err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "version.py")); err != nil {
		t.Fatalf("cloned tree missing expected file: %v", err)
	}
}

func TestCloneTagReplacesExistingDirectory(t *testing.T) {
	src := newTaggedRepo(t, "4.9.9-stable")
	dest := filepath.Join(t.TempDir(), "4.9.9-test")
	if err := os.MkdirAll(dest, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := filepath.Join(dest, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	client := NewClient(src, 0)
	if err := client.CloneTag(context.Background(), "4.9.9-stable", dest); err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale content must be removed before cloning")
	}
}

func TestCloneTagUnknownTag(t *testing.T) {
	src := newTaggedRepo(t, "4.9.9-stable")
	dest := filepath.Join(t.TempDir(), "missing")

	client := NewClient(src, 0)
	if err := client.CloneTag(context.Background(), "9.9.9-stable", dest); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}
