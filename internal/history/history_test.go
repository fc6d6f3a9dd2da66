package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/recdb/internal/jsonldb"
)

func messages(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestRepo(t *testing.T) {
	t.Parallel()

	t.Run("Open", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		r, err := Open(dir, "Test User", "test@example.com")
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			t.Errorf(".git directory not created: %v", err)
		}
		if r.Dir() != dir {
			t.Errorf("Dir() = %q, want %q", r.Dir(), dir)
		}
		// Reopening finds the existing repository.
		if _, err := Open(dir, "Other", "other@example.com"); err != nil {
			t.Fatalf("second Open() failed: %v", err)
		}
		entries, err := r.Log("missing.jsonl", 10)
		if err != nil {
			t.Fatalf("Log() on an empty repo failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("Log() = %v, want empty", entries)
		}
	})

	t.Run("Commit", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		r, err := Open(dir, "Test User", "test@example.com")
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, "a.jsonl")
		write := func(content string) {
			t.Helper()
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
		}
		write("one\n")
		if err := r.Commit(path, "first"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		// Unchanged content does not create a commit.
		if err := r.Commit(path, "noop"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		// An untracked sibling does not make the commit happen either.
		if err := os.WriteFile(filepath.Join(dir, "untracked"), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := r.Commit(path, "noop"); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
		write("two\n")
		if err := r.Commit("a.jsonl", "second"); err != nil {
			t.Fatalf("Commit() with relative path failed: %v", err)
		}

		entries, err := r.Log(path, 0)
		if err != nil {
			t.Fatalf("Log() failed: %v", err)
		}
		if diff := cmp.Diff([]string{"second", "first"}, messages(entries)); diff != "" {
			t.Errorf("Log mismatch (-want +got):\n%s", diff)
		}
		if entries[0].Author != "Test User" || entries[0].Email != "test@example.com" {
			t.Errorf("author = %s <%s>", entries[0].Author, entries[0].Email)
		}
		if len(entries[0].Hash) != 40 {
			t.Errorf("hash = %q", entries[0].Hash)
		}
		if entries, err := r.Log(path, 1); err != nil || len(entries) != 1 {
			t.Errorf("Log(1) = %v, %v", entries, err)
		}

		got, err := r.FileAt(entries[1].Hash, path)
		if err != nil {
			t.Fatalf("FileAt() failed: %v", err)
		}
		if string(got) != "one\n" {
			t.Errorf("FileAt(first) = %q", got)
		}
		got, err = r.FileAt("HEAD", "a.jsonl")
		if err != nil {
			t.Fatalf("FileAt(HEAD) failed: %v", err)
		}
		if string(got) != "two\n" {
			t.Errorf("FileAt(HEAD) = %q", got)
		}
	})

	t.Run("outside repository", func(t *testing.T) {
		t.Parallel()
		r, err := Open(t.TempDir(), "Test User", "test@example.com")
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Commit(filepath.Join(t.TempDir(), "x.jsonl"), "msg"); err == nil {
			t.Error("Commit() outside of the repository succeeded")
		}
		if _, err := r.Log("../x.jsonl", 1); err == nil {
			t.Error("Log() outside of the repository succeeded")
		}
	})

	t.Run("table committer", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		r, err := Open(dir, "recdb", "recdb@localhost")
		if err != nil {
			t.Fatal(err)
		}
		reg := jsonldb.NewRegistry(jsonldb.WithCommitter(r))
		table, err := reg.Open(filepath.Join(dir, "notes.jsonl"), "id", nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := table.Insert(jsonldb.Record{"id": "1", "text": "hello"}); err != nil {
			t.Fatal(err)
		}
		if err := table.Update(jsonldb.Record{"id": "1", "text": "bye"}); err != nil {
			t.Fatal(err)
		}
		entries, err := r.Log(table.Path(), 10)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"update notes", "insert notes", "create notes"}
		if diff := cmp.Diff(want, messages(entries)); diff != "" {
			t.Errorf("Log mismatch (-want +got):\n%s", diff)
		}
	})
}
