package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
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

func TestClient_PutFileSignsRequest(t *testing.T) {
	payload := []byte("compressed audit bytes")
	var (
		gotPath, gotAuth, gotHash, gotType string
		gotBody                            []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method=%s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "pipes", AccessKeyID: "AKID", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "audit-2026-03-01-11.jsonl.zst")
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "/a/audit/audit-2026-03-01-11.jsonl.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	if gotPath != "/pipes/a/audit/audit-2026-03-01-11.jsonl.zst" {
		t.Fatalf("path=%q", gotPath)
	}
	sum := sha256.Sum256(payload)
	if gotHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("payload hash=%q", gotHash)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/20260301/auto/s3/aws4_request") {
		t.Fatalf("authorization=%q", gotAuth)
	}
	if gotType != "application/zstd" {
		t.Fatalf("content-type=%q", gotType)
	}
	if string(gotBody) != string(payload) {
		t.Fatalf("body=%q", gotBody)
	}
}

func TestClient_PutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(Config{Endpoint: srv.URL, Bucket: "pipes", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	local := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(local, []byte("x"), 0o644)

	err = c.PutFile(context.Background(), "f", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v", err)
	}
	if err := c.PutFile(context.Background(), "  ", local); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example", Bucket: "b"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v", err)
	}
	c, err := New(Config{Endpoint: "acct.r2.example/", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.endpoint != "https://acct.r2.example" {
		t.Fatalf("endpoint=%q", c.endpoint)
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	keys  []string
	calls int
}

func (f *fakeUploader) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_RetriesAndPrefixesKeys(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "audit", "audit-2026-03-01-10.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "elsewhere.zst")
	_ = os.WriteFile(outside, []byte("y"), 0o644)

	up := &fakeUploader{fails: 2}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Prefix: "/node-a/", Attempts: 3})
	m.backoff = func(int) time.Duration { return 0 }

	m.Enqueue(local)
	m.Enqueue(outside)
	m.Close()
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "node-a/audit/audit-2026-03-01-10.jsonl.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	if up.calls != 3 {
		t.Fatalf("calls=%d want 3", up.calls)
	}
	st := m.Stats()
	if st.Enqueued != 2 || st.Uploaded != 1 || st.Failed != 1 || st.Dropped != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "a.zst")
	_ = os.WriteFile(local, []byte("x"), 0o644)

	up := &fakeUploader{fails: 10}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Attempts: 2})
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue(local)
	m.Close()

	if up.calls != 2 || len(up.keys) != 0 {
		t.Fatalf("calls=%d keys=%v", up.calls, up.keys)
	}
	if st := m.Stats(); st.Failed != 1 {
		t.Fatalf("stats=%+v", st)
	}
}
