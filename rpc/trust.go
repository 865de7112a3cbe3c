package rpc

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hohhen/Halibut/rpclog"
)

// TrustSet is the set of peer thumbprints a runtime accepts (spec §3).
// Trust is asymmetric: each side maintains its own set. Reads (the hot
// path, checked on every handshake) take a read lock and run
// concurrently with each other; Trust and Revoke edit the map in place
// under the write lock, and Replace swaps in a whole new map, the
// discipline the dca example repo uses for its CA pool (dca.Pool).
type TrustSet struct {
	mu sync.RWMutex
	m  map[string]struct{}
}

// NewTrustSet creates a TrustSet seeded with the given thumbprints.
func NewTrustSet(thumbprints ...string) *TrustSet {
	t := &TrustSet{m: make(map[string]struct{}, len(thumbprints))}
	for _, tp := range thumbprints {
		t.m[normalizeThumbprint(tp)] = struct{}{}
	}
	return t
}

// Trust adds thumbprint to the set.
func (t *TrustSet) Trust(thumbprint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[normalizeThumbprint(thumbprint)] = struct{}{}
}

// Revoke removes thumbprint from the set.
func (t *TrustSet) Revoke(thumbprint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, normalizeThumbprint(thumbprint))
}

// IsTrusted reports whether thumbprint is in the set.
func (t *TrustSet) IsTrusted(thumbprint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.m[normalizeThumbprint(thumbprint)]
	return ok
}

// Replace atomically swaps the entire trust set, used by
// WatchTrustFile on each reload.
func (t *TrustSet) Replace(thumbprints []string) {
	m := make(map[string]struct{}, len(thumbprints))
	for _, tp := range thumbprints {
		m[normalizeThumbprint(tp)] = struct{}{}
	}
	t.mu.Lock()
	t.m = m
	t.mu.Unlock()
}

// Snapshot returns a copy of the currently trusted thumbprints.
func (t *TrustSet) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.m))
	for tp := range t.m {
		out = append(out, tp)
	}
	return out
}

func normalizeThumbprint(tp string) string {
	return strings.ToLower(strings.TrimSpace(tp))
}

// WatchTrustFile loads thumbprints (one lowercase hex string per
// non-empty, non-'#'-prefixed line) from path into set, then watches
// the file with fsnotify and reloads on every write/create/rename,
// letting an operator add or revoke a node's trust without restarting
// the runtime. This supplements spec §4.9's trust(thumbprint)
// operation; it is not part of the original spec. The returned
// function stops the watch.
func WatchTrustFile(set *TrustSet, path string, logger rpclog.Logger) (stop func() error, err error) {
	if logger == nil {
		logger = rpclog.Nop()
	}
	if err := loadTrustFile(set, path); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := loadTrustFile(set, path); err != nil {
					logger.Warnf("reloading trust file %s: %s", path, err)
					continue
				}
				logger.Infof("reloaded trust file %s (%d thumbprints)", path, len(set.Snapshot()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("watching trust file %s: %s", path, err)
			}
		}
	}()

	return func() error {
		err := watcher.Close()
		<-done
		return err
	}, nil
}

func loadTrustFile(set *TrustSet, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var thumbprints []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		thumbprints = append(thumbprints, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	set.Replace(thumbprints)
	return nil
}
