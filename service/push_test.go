package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/baldanca/blob-persistor/blob"
	"github.com/baldanca/blob-persistor/encoder"
	"github.com/baldanca/blob-persistor/persistor"
	"github.com/baldanca/blob-persistor/rotate"
	"github.com/baldanca/blob-persistor/writer"
)

// ---- fakes ----

type pushStore struct {
	mu sync.Mutex

	writes   map[string][]byte
	appends  map[string][][]byte
	storeErr error
}

func newPushStore() *pushStore {
	return &pushStore{writes: make(map[string][]byte), appends: make(map[string][][]byte)}
}

func (s *pushStore) Exists(ctx context.Context, path string) (bool, error) { return false, nil }
func (s *pushStore) CreateAppendable(ctx context.Context, path string) error {
	return nil
}

func (s *pushStore) Write(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.writes[path] = append([]byte(nil), data...)
	return nil
}

func (s *pushStore) Append(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.appends[path] = append(s.appends[path], append([]byte(nil), data...))
	return nil
}

var _ blob.Client = (*pushStore)(nil)

func newPushWriter(t *testing.T, store blob.Client) *writer.Writer {
	t.Helper()
	w, err := writer.New(store, encoder.NDJSON{}, "store", nil)
	if err != nil {
		t.Fatalf("writer.New: %v", err)
	}
	w.SetRetry(writer.Retry{Attempts: 1})
	return w
}

// ---- tests ----

func TestPushStoresDeliveredMessage(t *testing.T) {
	store := newPushStore()
	p, err := NewPusher(newPushWriter(t, store), nil, nil, false, true, false, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("the payload"))
	req.Header.Set("X-Message-Property-Origin", "unit")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rr.Code, rr.Body)
	}
	if got := rr.Body.String(); got != "OK" {
		t.Errorf("body = %q, want OK", got)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.writes) != 1 {
		t.Fatalf("stored objects = %d, want 1", len(store.writes))
	}
	for path, data := range store.writes {
		if !strings.HasPrefix(path, "store/") {
			t.Errorf("path = %q, want the store key prefix", path)
		}
		if want := `{"DATA":"the payload","METADATA":{"Origin":"unit"}}`; string(data) != want {
			t.Errorf("stored = %s, want %s", data, want)
		}
	}
}

func TestPushWithoutMetadata(t *testing.T) {
	store := newPushStore()
	p, err := NewPusher(newPushWriter(t, store), nil, nil, false, false, false, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("plain"))
	req.Header.Set("X-Message-Property-Origin", "unit")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, data := range store.writes {
		if strings.Contains(string(data), "METADATA") {
			t.Errorf("metadata stored without being requested: %s", data)
		}
	}
}

func TestPushAppendsToRotatedTarget(t *testing.T) {
	store := newPushStore()
	rotator, err := rotate.New(store, "appends", ".txt", true, nil)
	if err != nil {
		t.Fatalf("rotate.New: %v", err)
	}
	p, err := NewPusher(newPushWriter(t, store), rotator, nil, true, false, false, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("a"))
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rr.Code, rr.Body)
	}

	target := rotator.Current()
	store.mu.Lock()
	defer store.mu.Unlock()
	blocks := store.appends[target]
	if len(blocks) != 1 {
		t.Fatalf("append blocks on %q = %d, want 1", target, len(blocks))
	}
	if want := `{"DATA":"a"}` + "\n"; string(blocks[0]) != want {
		t.Errorf("block = %q, want %q", blocks[0], want)
	}
}

func TestPushStoreFailure(t *testing.T) {
	store := newPushStore()
	store.storeErr = errors.New("down")
	p, err := NewPusher(newPushWriter(t, store), nil, nil, false, false, false, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("a"))
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), persistor.ErrStoreFailure.Error()) {
		t.Errorf("body = %q, want the store failure surfaced", rr.Body)
	}
}

func TestPushRejectsUndecodableDelivery(t *testing.T) {
	store := newPushStore()
	p, err := NewPusher(newPushWriter(t, store), nil, nil, false, false, false, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("\xff\xfe"))
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want the delivery failed whole", rr.Code)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.writes) != 0 {
		t.Errorf("stored objects = %d, want 0", len(store.writes))
	}
}

func TestPushOutputBinding(t *testing.T) {
	p, err := NewPusher(nil, nil, encoder.NDJSON{}, false, false, true, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("bound"))
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rr.Code, rr.Body)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("content type = %q", got)
	}
	if got := rr.Body.String(); got != `{"DATA":"bound"}` {
		t.Errorf("body = %q", got)
	}
}

func TestNewPusherValidation(t *testing.T) {
	if _, err := NewPusher(nil, nil, nil, false, false, false, nil); err == nil {
		t.Error("nil writer accepted outside output-binding mode")
	}
	if _, err := NewPusher(nil, nil, nil, false, false, true, nil); err == nil {
		t.Error("output binding without an encoder accepted")
	}
	store := newPushStore()
	if _, err := NewPusher(newPushWriter(t, store), nil, nil, true, false, false, nil); err == nil {
		t.Error("append mode without a rotator accepted")
	}
}
