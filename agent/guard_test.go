package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAssertIntegrityNotRead(t *testing.T) {
	g := NewIntegrityGuard()
	path := writeTemp(t, "a.txt", "content")

	err := g.AssertIntegrity(path)
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Reason != ReasonNotRead {
		t.Fatalf("expected not_read error, got %v", err)
	}
}

func TestAssertIntegrityClean(t *testing.T) {
	g := NewIntegrityGuard()
	path := writeTemp(t, "a.txt", "content")
	g.TrackRead(path, "content")

	if err := g.AssertIntegrity(path); err != nil {
		t.Fatalf("clean file failed integrity: %v", err)
	}
}

func TestAssertIntegrityModifiedExternally(t *testing.T) {
	g := NewIntegrityGuard()
	path := writeTemp(t, "a.txt", "content")
	g.TrackRead(path, "content")

	if err := os.WriteFile(path, []byte("changed behind the agent's back"), 0644); err != nil {
		t.Fatal(err)
	}

	err := g.AssertIntegrity(path)
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Reason != ReasonModified {
		t.Fatalf("expected modified_externally error, got %v", err)
	}
}

func TestAssertIntegrityDeleted(t *testing.T) {
	g := NewIntegrityGuard()
	path := writeTemp(t, "a.txt", "content")
	g.TrackRead(path, "content")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	err := g.AssertIntegrity(path)
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Reason != ReasonDeleted {
		t.Fatalf("expected deleted error, got %v", err)
	}
}

func TestSnapshotStoreIndependentOfHashes(t *testing.T) {
	g := NewIntegrityGuard()
	g.SaveSnapshot("/some/file", "snapshot content")

	if g.Tracked("/some/file") {
		t.Error("snapshot must not mark the file as read")
	}
	snap, ok := g.GetSnapshot("/some/file")
	if !ok || snap.Content != "snapshot content" {
		t.Errorf("snapshot lost: %+v ok=%v", snap, ok)
	}
}
