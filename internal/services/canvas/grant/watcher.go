package grant

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// KeyWatcher reloads the grant public key when its file changes, so keys can
// rotate without a restart. The watch is on the parent directory because
// editors and secret managers replace files by rename.
type KeyWatcher struct {
	path     string
	verifier *Verifier
	logger   *log.Logger
}

// NewKeyWatcher builds a watcher for the key file feeding the verifier.
func NewKeyWatcher(path string, verifier *Verifier, logger *log.Logger) (*KeyWatcher, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	path = filepath.Clean(path)
	if path == "" || path == "." {
		return nil, fmt.Errorf("grant key path is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &KeyWatcher{path: path, verifier: verifier, logger: logger}, nil
}

// LoadKeyFile reads and decodes a base64 Ed25519 public key file.
func LoadKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grant key file: %w", err)
	}
	key, err := DecodeKey(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode grant key file: %w", err)
	}
	return key, nil
}

// Run watches the key file until the context is canceled. A failed reload
// keeps the previous key.
func (w *KeyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create key watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch grant key directory: %w", err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("grant key watcher error: %v", err)
		}
	}
}

func (w *KeyWatcher) reload() {
	key, err := LoadKeyFile(w.path)
	if err != nil {
		w.logger.Printf("grant key reload failed, keeping previous key: %v", err)
		return
	}
	if err := w.verifier.SetKey(key); err != nil {
		w.logger.Printf("grant key rejected, keeping previous key: %v", err)
		return
	}
	w.logger.Printf("grant key reloaded from %s", w.path)
}
