package src

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Transcript is the on-disk shape of one saved session.
type Transcript struct {
	SessionID     string            `json:"session_id"`
	Model         string            `json:"model"`
	SavedAt       string            `json:"saved_at"`
	Messages      []ChatMessage     `json:"messages"`
	Operations    []OperationRecord `json:"operations"`
	RecentChanges []FileChange      `json:"recent_changes,omitempty"`
}

// TranscriptStore persists session transcripts as JSON files under the
// history directory. A save is skipped when the serialized transcript is
// identical to the last one written, so saving after every exchange is
// cheap.
type TranscriptStore struct {
	dir       string
	logger    *zap.Logger
	checksums map[string]string
}

func NewTranscriptStore(dir string, logger *zap.Logger) *TranscriptStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptStore{
		dir:       dir,
		logger:    logger,
		checksums: map[string]string{},
	}
}

func (t *TranscriptStore) path(sessionID string) string {
	return filepath.Join(t.dir, sessionID+".json")
}

// Path reports where a session's transcript is written.
func (t *TranscriptStore) Path(sessionID string) string {
	return t.path(sessionID)
}

// Save writes the session transcript, capped at the session's message
// limit.
func (t *TranscriptStore) Save(s *SessionState) error {
	messages := s.Messages
	if s.MaxHistory > 0 && len(messages) > s.MaxHistory {
		messages = messages[len(messages)-s.MaxHistory:]
	}
	transcript := Transcript{
		SessionID:     s.ID,
		Model:         s.CurrentModel,
		SavedAt:       time.Now().Format(time.RFC3339),
		Messages:      messages,
		Operations:    s.Operations,
		RecentChanges: s.RecentChanges,
	}

	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return err
	}

	// SavedAt changes every call, so checksum everything but that line.
	sum := checksumTranscript(transcript)
	if t.checksums[s.ID] == sum {
		return nil
	}

	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	path := t.path(s.ID)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write transcript %s: %w", path, err)
	}
	t.checksums[s.ID] = sum
	t.logger.Debug("transcript saved",
		zap.String("session", s.ID),
		zap.Int("messages", len(messages)),
		zap.Int("operations", len(s.Operations)))
	return nil
}

// Load restores a saved transcript by session ID.
func (t *TranscriptStore) Load(sessionID string) (*Transcript, error) {
	path := t.path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var transcript Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &transcript, nil
}

func checksumTranscript(transcript Transcript) string {
	transcript.SavedAt = ""
	data, err := json.Marshal(transcript)
	if err != nil {
		return ""
	}
	return hashString(string(data))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
