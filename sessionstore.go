package mqtt

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"
)

// Store is the session-state persistence contract. A Client never
// shares any other internal state with application code;
// implementations must be safe to call from arbitrary goroutines but
// need not support concurrent calls for the *same* client-id, since
// the Client serialises its own lifecycle hooks into it.
type Store interface {
	Save(clientID string, state SessionState) error
	Load(clientID string) (SessionState, bool, error)
	Delete(clientID string) error
	Exists(clientID string) (bool, error)
}

// filenameSafe matches client-ids that can be used directly as a
// filename; anything else is rewritten to mqtt_<sha1-hex> so a
// client-id can never smuggle a path separator or ".." traversal into
// the store directory.
var filenameSafe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func safeFilename(clientID string) string {
	if filenameSafe.MatchString(clientID) {
		return clientID
	}
	sum := sha1.Sum([]byte(clientID))
	return "mqtt_" + hex.EncodeToString(sum[:])
}

// fileSessionDoc is the on-disk JSON document: one document per
// client-id, subscriptions keyed by filter with a granted qos and
// optional v5 options, plus the pending-QoS2 packet-id set and a
// saved-at unix second.
type fileSessionDoc struct {
	Subscriptions map[string]fileSubscriptionDoc `json:"subscriptions"`
	PendingQoS2   []uint16                        `json:"pending_qos2"`
	SavedAt       int64                           `json:"saved_at"`
}

type fileSubscriptionDoc struct {
	QoS     uint8             `json:"qos"`
	Options *SubscribeOptions `json:"options"`
}

// FileStore is the file-backed Store implementation: one JSON
// document per client-id under Dir, written atomically (temp file +
// rename, guarded by a sibling .lock file held with an exclusive
// flock for the duration of the write) so a crash mid-write never
// leaves a partially written document that Load would mistake for
// valid.
type FileStore struct {
	Dir    string
	Expiry time.Duration // 0 disables expiry-on-load

	mu sync.Mutex
}

func NewFileStore(dir string, expiry time.Duration) *FileStore {
	return &FileStore{Dir: dir, Expiry: expiry}
}

func (f *FileStore) path(clientID string) string {
	return filepath.Join(f.Dir, safeFilename(clientID)+".json")
}

func (f *FileStore) lockPath(clientID string) string {
	return filepath.Join(f.Dir, safeFilename(clientID)+".lock")
}

func (f *FileStore) withLock(clientID string, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return &SessionStoreError{Cause: err}
	}
	lock, err := os.OpenFile(f.lockPath(clientID), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return &SessionStoreError{Cause: err}
	}
	defer lock.Close()

	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return &SessionStoreError{Cause: err}
	}
	defer syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)

	if err := fn(); err != nil {
		return &SessionStoreError{Cause: err}
	}
	return nil
}

func toFileDoc(state SessionState) fileSessionDoc {
	doc := fileSessionDoc{
		Subscriptions: make(map[string]fileSubscriptionDoc, len(state.Subscriptions)),
		PendingQoS2:   append([]uint16(nil), state.PendingQoS2...),
		SavedAt:       state.SavedAt,
	}
	for filter, entry := range state.Subscriptions {
		doc.Subscriptions[filter] = fileSubscriptionDoc{QoS: entry.GrantedQoS, Options: entry.Options}
	}
	return doc
}

func fromFileDoc(doc fileSessionDoc) SessionState {
	state := SessionState{
		Subscriptions: make(map[string]SubscriptionEntry, len(doc.Subscriptions)),
		PendingQoS2:   append([]uint16(nil), doc.PendingQoS2...),
		SavedAt:       doc.SavedAt,
	}
	for filter, d := range doc.Subscriptions {
		state.Subscriptions[filter] = SubscriptionEntry{GrantedQoS: d.QoS, Options: d.Options}
	}
	return state
}

// Save writes state for clientID, replacing any prior document. The
// write goes to a temp file in the same directory (so the rename is
// on the same filesystem) and is renamed into place only after a
// successful fsync, which is what makes a concurrent crash-during-
// write unobservable to Load.
func (f *FileStore) Save(clientID string, state SessionState) error {
	if state.SavedAt <= 0 {
		state.SavedAt = time.Now().Unix()
	}
	b, err := json.Marshal(toFileDoc(state))
	if err != nil {
		return &SessionStoreError{Cause: err}
	}
	return f.withLock(clientID, func() error {
		final := f.path(clientID)
		tmp := final + ".tmp"
		fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := fh.Write(b); err != nil {
			fh.Close()
			return err
		}
		if err := fh.Sync(); err != nil {
			fh.Close()
			return err
		}
		if err := fh.Close(); err != nil {
			return err
		}
		return os.Rename(tmp, final)
	})
}

// Load returns the stored state for clientID, or (zero, false, nil)
// if none exists or it has expired. An expired document is deleted as
// a side effect.
func (f *FileStore) Load(clientID string) (SessionState, bool, error) {
	var result SessionState
	var found bool
	err := f.withLock(clientID, func() error {
		b, err := os.ReadFile(f.path(clientID))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		var doc fileSessionDoc
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		if f.Expiry > 0 && time.Now().Unix()-doc.SavedAt > int64(f.Expiry/time.Second) {
			return os.Remove(f.path(clientID))
		}
		result, found = fromFileDoc(doc), true
		return nil
	})
	if err != nil {
		return SessionState{}, false, err
	}
	return result, found, nil
}

func (f *FileStore) Delete(clientID string) error {
	return f.withLock(clientID, func() error {
		err := os.Remove(f.path(clientID))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

func (f *FileStore) Exists(clientID string) (bool, error) {
	var exists bool
	err := f.withLock(clientID, func() error {
		_, err := os.Stat(f.path(clientID))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Cleanup scans Dir and removes every document whose saved-at is
// older than Expiry. Returns the number of documents removed.
func (f *FileStore) Cleanup() (int, error) {
	if f.Expiry <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &SessionStoreError{Cause: err}
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(f.Dir, name))
		if err != nil {
			continue
		}
		var doc fileSessionDoc
		if err := json.Unmarshal(b, &doc); err != nil {
			continue
		}
		if time.Now().Unix()-doc.SavedAt > int64(f.Expiry/time.Second) {
			if err := os.Remove(filepath.Join(f.Dir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
