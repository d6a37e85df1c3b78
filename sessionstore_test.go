package mqtt

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"
)

func testStore(t *testing.T, expiry time.Duration) *FileStore {
	t.Helper()
	return NewFileStore(t.TempDir(), expiry)
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := testStore(t, 0)
	state := SessionState{
		Subscriptions: map[string]SubscriptionEntry{
			"sensors/#": {GrantedQoS: 1, Options: &SubscribeOptions{QoS: 1, NoLocal: true}},
			"alerts/+":  {GrantedQoS: 2},
		},
		PendingQoS2: []uint16{42, 7},
	}

	if err := s.Save("client-a", state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, found, err := s.Load("client-a")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(got.Subscriptions, state.Subscriptions) {
		t.Errorf("subscriptions: got %+v want %+v", got.Subscriptions, state.Subscriptions)
	}
	if !reflect.DeepEqual(got.PendingQoS2, state.PendingQoS2) {
		t.Errorf("pending qos2: got %v want %v", got.PendingQoS2, state.PendingQoS2)
	}
	if got.SavedAt <= 0 {
		t.Error("expected SavedAt to be stamped on save")
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	s := testStore(t, 0)
	_, found, err := s.Load("never-saved")
	if err != nil || found {
		t.Errorf("expected (zero, false, nil), got found=%v err=%v", found, err)
	}
}

func TestFileStoreDeleteAndExists(t *testing.T) {
	s := testStore(t, 0)
	if err := s.Save("client-b", SessionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok, _ := s.Exists("client-b"); !ok {
		t.Error("expected Exists true after Save")
	}
	if err := s.Delete("client-b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists("client-b"); ok {
		t.Error("expected Exists false after Delete")
	}
	if err := s.Delete("client-b"); err != nil {
		t.Errorf("Delete of a missing document must be a no-op, got %v", err)
	}
}

func TestFileStoreExpiry(t *testing.T) {
	s := testStore(t, time.Hour)
	state := SessionState{SavedAt: time.Now().Add(-2 * time.Hour).Unix()}
	if err := s.Save("stale", state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, found, err := s.Load("stale")
	if err != nil || found {
		t.Errorf("expected an expired document to load as none, got found=%v err=%v", found, err)
	}
	if ok, _ := s.Exists("stale"); ok {
		t.Error("expected the expired document to be deleted on load")
	}
}

func TestFileStoreCleanup(t *testing.T) {
	s := testStore(t, time.Hour)
	if err := s.Save("fresh", SessionState{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("stale", SessionState{SavedAt: time.Now().Add(-2 * time.Hour).Unix()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	removed, err := s.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 document removed, got %d", removed)
	}
	if ok, _ := s.Exists("fresh"); !ok {
		t.Error("expected the fresh document to survive Cleanup")
	}
}

func TestFileStoreCorruptDocumentFailsLoad(t *testing.T) {
	s := testStore(t, 0)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, "broken.json"), []byte("{half a doc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Load("broken"); err == nil {
		t.Error("expected a truncated document to fail loading, not parse as valid")
	}
}

func TestSafeFilename(t *testing.T) {
	plain := regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	hashed := regexp.MustCompile(`^mqtt_[0-9a-f]{40}$`)

	cases := []string{
		"simple-id",
		"under_score_64_chars_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"../../../etc/passwd",
		"has spaces",
		"unicode-☂",
		strings.Repeat("x", 65),
		"",
	}
	for _, id := range cases {
		name := safeFilename(id)
		if strings.ContainsAny(name, "/\\") {
			t.Errorf("%q: filename %q contains a path separator", id, name)
		}
		if !plain.MatchString(name) && !hashed.MatchString(name) {
			t.Errorf("%q: filename %q matches neither safe form", id, name)
		}
	}

	if safeFilename("ok-id") != "ok-id" {
		t.Error("expected a safe id to pass through unchanged")
	}
	if !hashed.MatchString(safeFilename("../traversal")) {
		t.Error("expected an unsafe id to be rewritten to mqtt_<sha1>")
	}
}
