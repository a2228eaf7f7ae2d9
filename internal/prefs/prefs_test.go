package prefs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileStoreDefaults(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "Documents", FileName))
	if err != nil {
		t.Fatal(err)
	}

	p, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.HideSyncedOr(true) != true {
		t.Error("unset hide-synced should use the default")
	}
	if !p.Visible("step", "anim") {
		t.Error("unknown facet value should be visible")
	}
	if p.WindowSize != nil {
		t.Errorf("window size = %+v, want unset", p.WindowSize)
	}
}

func TestFileStoreUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Documents", FileName)
	s, _ := NewFileStore(path)
	ctx := context.Background()

	err := s.Update(ctx, func(p *Preferences) {
		p.SetVisible("step", "anim", false)
		p.SetHideSynced(false)
		p.WindowSize = &Size{Width: 1280, Height: 720}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, func(p *Preferences) { p.SetVisible("ext", "ma", true) }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, _ := NewFileStore(path)
	p, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Visible("step", "anim") {
		t.Error("hidden value did not survive a reload")
	}
	if !p.Visible("ext", "ma") {
		t.Error("visible value lost")
	}
	if p.HideSyncedOr(true) {
		t.Error("hide-synced flag lost")
	}
	if p.WindowSize == nil || p.WindowSize.Width != 1280 {
		t.Errorf("window size = %+v", p.WindowSize)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0077 != 0 && filepath.Separator == '/' {
		t.Errorf("preference file mode = %v, want private", info.Mode().Perm())
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(path)

	p, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Facets != nil || p.HideSynced != nil {
		t.Errorf("corrupt file should give defaults, got %+v", p)
	}
}

func TestFileStoreWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, _ := NewFileStore(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Preferences, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(p Preferences) {
			select {
			case changes <- p:
			default:
			}
		})
	}()

	// The watcher registers asynchronously; keep writing until it reports.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case p := <-changes:
			if p.Visible("type", "Maya Scene") {
				// a truncate seen before the write completed
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch: %v", err)
			}
			return
		case <-ticker.C:
			data := []byte(`{"facets": {"type": {"Maya Scene": false}}}`)
			if err := os.WriteFile(path, data, 0600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}

func TestFileStoreWatchSkipsOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, _ := NewFileStore(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Preferences, 16)
	go s.Watch(ctx, func(p Preferences) {
		select {
		case changes <- p:
		default:
		}
	})

	// Wait for the watcher with external writes.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	external := []byte(`{"facets": {"ext": {"tmp": false}}}`)
ready:
	for {
		select {
		case p := <-changes:
			if !p.Visible("ext", "tmp") {
				break ready
			}
		case <-ticker.C:
			if err := os.WriteFile(path, external, 0600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("watcher never reported")
		}
	}
	time.Sleep(100 * time.Millisecond)
	for len(changes) > 0 {
		<-changes
	}

	for _, v := range []bool{false, true, false} {
		if err := s.Update(ctx, func(p *Preferences) { p.SetVisible("ext", "abc", v) }); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	select {
	case p := <-changes:
		t.Errorf("own write reported as a change: %+v", p)
	case <-time.After(300 * time.Millisecond):
	}
}

// fakeS3 serves GetObject and PutObject for path-style requests.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	s, err := NewS3Store(ctx, S3Config{
		Bucket:    "studio-prefs",
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
		PathStyle: true,
		User:      "alice",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}

	p, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load of a missing object: %v", err)
	}
	if !p.Visible("step", "anim") {
		t.Error("missing object should give defaults")
	}

	if err := s.Update(ctx, func(p *Preferences) { p.SetVisible("step", "anim", false) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := fake.objects["studio-prefs/prefs/alice.json"]; !ok {
		t.Fatalf("object not written, have %v", fake.objects)
	}

	p, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Visible("step", "anim") {
		t.Error("hidden value did not round trip through the bucket")
	}
}

func TestNewS3StoreRequiresBucketAndUser(t *testing.T) {
	ctx := context.Background()
	if _, err := NewS3Store(ctx, S3Config{User: "alice", Region: "us-east-1"}); err == nil {
		t.Error("missing bucket should fail")
	}
	if _, err := NewS3Store(ctx, S3Config{Bucket: "b", Region: "us-east-1"}); err == nil {
		t.Error("missing user should fail")
	}
}
