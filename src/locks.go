package src

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const commitLockName = ".codeflow.lock"

// WithCommitLock runs fn while holding the workspace commit lock so two
// processes cannot interleave batch applies.
func (w *Workspace) WithCommitLock(ctx context.Context, fn func() error) error {
	lockPath := filepath.Join(w.Root, commitLockName)
	release, err := acquireDirLock(ctx, lockPath, func(waited time.Duration) {
		if waited > 0 && waited%(1200*time.Millisecond) == 0 {
			w.logger.Info("waiting for commit lock", zap.String("path", lockPath), zap.Duration("waited", waited))
		}
	})
	if err != nil {
		return fmt.Errorf("acquire commit lock: %w", err)
	}
	defer func() { _ = release() }()
	return fn()
}

type lockWaitHook func(waited time.Duration)

// acquireDirLock takes a directory lock via os.Mkdir. The lock carries an
// owner file for debugging; locks older than ten minutes are presumed
// stale and broken.
func acquireDirLock(ctx context.Context, path string, hook lockWaitHook) (func() error, error) {
	step := 120 * time.Millisecond
	waited := time.Duration(0)
	for {
		err := os.Mkdir(path, 0o755)
		if err == nil {
			meta := fmt.Sprintf("pid=%d\nacquired=%s\n", os.Getpid(), time.Now().Format(time.RFC3339Nano))
			_ = os.WriteFile(filepath.Join(path, "owner"), []byte(meta), 0o644)
			return func() error { return os.RemoveAll(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}

		if hook != nil {
			hook(waited)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step):
			if waited < 2*time.Second {
				waited += step
			}
		}

		if waited >= 2*time.Second {
			if info, statErr := os.Stat(path); statErr == nil {
				if time.Since(info.ModTime()) > 10*time.Minute {
					_ = os.RemoveAll(path)
				}
			}
		}
	}
}
