package share

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SecretSource supplies the shared secret used by the handshake (§4.5) and
// allows it to change at runtime when backed by a file.
type SecretSource interface {
	// Get returns the current secret bytes.
	Get() []byte
}

// literalSecret is a SecretSource over a fixed, config-supplied secret.
type literalSecret struct {
	value []byte
}

func (s *literalSecret) Get() []byte {
	return s.value
}

// NewLiteralSecretSource wraps a secret given directly in configuration.
func NewLiteralSecretSource(secret []byte) SecretSource {
	return &literalSecret{value: secret}
}

// fileSecretSource reads a secret from disk and reloads it on write, via
// fsnotify, so an operator can rotate the shared secret without restarting
// the Proxy or Client (§9.3, §6: secretFile).
type fileSecretSource struct {
	Logger

	mu      sync.RWMutex
	value   []byte
	path    string
	watcher *fsnotify.Watcher
}

// NewFileSecretSource reads path once synchronously, then starts a
// background watch that reloads the secret on every write/create event.
// Watch errors and reload failures are logged but never fatal: the last
// successfully loaded secret remains in effect.
func NewFileSecretSource(logger Logger, path string) (SecretSource, error) {
	s := &fileSecretSource{
		Logger: logger.Fork("secretFile"),
		path:   path,
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, s.Errorf("fsnotify.NewWatcher: %s", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, s.Errorf("watch %s: %s", path, err)
	}
	s.watcher = w
	go s.watchLoop()
	return s, nil
}

func (s *fileSecretSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.Errorf("read %s: %s", s.path, err)
	}
	s.mu.Lock()
	s.value = data
	s.mu.Unlock()
	return nil
}

func (s *fileSecretSource) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.WLogf("reload failed, keeping last known secret: %s", err)
				continue
			}
			s.ILogf("secret reloaded from %s", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.WLogf("watch error: %s", err)
		}
	}
}

// Get returns the most recently loaded secret.
func (s *fileSecretSource) Get() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
