package src

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTranscriptSaveLoadRoundTrip(t *testing.T) {
	store := NewTranscriptStore(t.TempDir(), nil)
	s := NewSessionState("llama-2-70B", 0)
	s.AddMessage(RoleUser, "build a header")
	s.AddMessage(RoleAssistant, "done")
	s.RecordOperation("user_request", "build a header")
	s.RecordFileChange("index.html", "modified")

	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionID != s.ID || loaded.Model != "llama-2-70B" {
		t.Fatalf("unexpected transcript header: %+v", loaded)
	}
	if len(loaded.Messages) != 2 || loaded.Messages[1].Content != "done" {
		t.Fatalf("messages not restored: %+v", loaded.Messages)
	}
	if len(loaded.Operations) != 1 || loaded.Operations[0].Type != "user_request" {
		t.Fatalf("operations not restored: %+v", loaded.Operations)
	}
	if len(loaded.RecentChanges) != 1 || loaded.RecentChanges[0].Name != "index.html" {
		t.Fatalf("changes not restored: %+v", loaded.RecentChanges)
	}
	if loaded.SavedAt == "" {
		t.Fatalf("saved_at missing")
	}
}

func TestTranscriptSkipsIdenticalSave(t *testing.T) {
	store := NewTranscriptStore(t.TempDir(), nil)
	s := NewSessionState("", 0)
	s.AddMessage(RoleUser, "hello")

	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := store.Path(s.ID)

	// Corrupt the file on disk. An unchanged session must not rewrite it.
	if err := os.WriteFile(path, []byte("corrupted"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "corrupted" {
		t.Fatalf("identical save should have been skipped")
	}

	// New content invalidates the checksum and rewrites the file.
	s.AddMessage(RoleAssistant, "hi there")
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(s.ID)
	if err != nil {
		t.Fatalf("Load after rewrite: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("rewrite missing messages: %+v", loaded.Messages)
	}
}

func TestTranscriptCapsMessagesAtHistoryLimit(t *testing.T) {
	store := NewTranscriptStore(t.TempDir(), nil)
	s := NewSessionState("", 3)
	// AddMessage already trims to MaxHistory; bypass it to prove Save caps
	// independently.
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		s.Messages = append(s.Messages, ChatMessage{Role: RoleUser, Content: content})
	}

	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[0].Content != "three" || loaded.Messages[2].Content != "five" {
		t.Fatalf("oldest messages should be dropped: %+v", loaded.Messages)
	}
}

func TestTranscriptPath(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir, nil)
	if got := store.Path("abc"); got != filepath.Join(dir, "abc.json") {
		t.Fatalf("unexpected path: %q", got)
	}
}

func TestTranscriptLoadMissing(t *testing.T) {
	store := NewTranscriptStore(t.TempDir(), nil)
	if _, err := store.Load("nope"); err == nil {
		t.Fatalf("expected error for missing transcript")
	}
}

func TestTranscriptFilePermissions(t *testing.T) {
	store := NewTranscriptStore(filepath.Join(t.TempDir(), "history"), nil)
	s := NewSessionState("", 0)
	s.AddMessage(RoleUser, "hello")

	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(store.Path(s.ID))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("transcript perm %o, want 0600", perm)
	}
}
