package transfer_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ftp_bridge/internal/ftperr"
	"ftp_bridge/internal/ftptest"
	"ftp_bridge/internal/session"
	"ftp_bridge/internal/transfer"
)

type recorder struct {
	mu  sync.Mutex
	got []int
	// on вызывается после записи каждого процента
	on func(p int)
}

func (r *recorder) Progress(_ string, p int) {
	r.mu.Lock()
	r.got = append(r.got, p)
	on := r.on
	r.mu.Unlock()
	if on != nil {
		on(p)
	}
}

func (r *recorder) Finished(string, error) {}

func (r *recorder) values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.got...)
}

func newEngine(srv *ftptest.Server, rec *recorder) *transfer.Engine {
	d := session.NewDriver(srv.Options(), zerolog.Nop())
	return transfer.New(d, rec, zerolog.Nop())
}

func writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func assertProgress(t *testing.T, got []int, wantLast int) {
	t.Helper()
	if len(got) == 0 || got[0] != 0 {
		t.Fatalf("expected progress to start at 0, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("expected strictly increasing progress, got %v", got)
		}
	}
	if last := got[len(got)-1]; last != wantLast {
		t.Errorf("expected last progress %d, got %d (%v)", wantLast, last, got)
	}
}

func TestUpload(t *testing.T) {
	srv := ftptest.NewServer()
	srv.MkdirAll("/dst")
	data := bytes.Repeat([]byte("x"), 10000)
	local := writeLocal(t, "a.bin", data)
	rec := &recorder{}

	cleaned := false
	err := newEngine(srv, rec).Upload(context.Background(), transfer.Job{
		Token:   local + "=>/dst/a.bin",
		Local:   local,
		Remote:  "/dst/a.bin",
		Creds:   ftptest.Credentials(),
		Cleaned: func() { cleaned = true },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := srv.ReadFile("/dst/a.bin")
	if !ok || !bytes.Equal(got, data) {
		t.Fatalf("expected uploaded content of %d bytes, got %d", len(data), len(got))
	}
	assertProgress(t, rec.values(), 100)
	if !cleaned {
		t.Error("expected successful upload to leave no partial artifacts")
	}
}

func TestUploadEmptyFile(t *testing.T) {
	srv := ftptest.NewServer()
	local := writeLocal(t, "empty", nil)
	rec := &recorder{}

	err := newEngine(srv, rec).Upload(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/empty", Creds: ftptest.Credentials(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := rec.values()
	if len(got) != 2 || got[0] != 0 || got[1] != 100 {
		t.Errorf("expected [0 100], got %v", got)
	}
	if !srv.Exists("/empty") {
		t.Error("expected empty remote file")
	}
}

func TestUploadCancelRemovesRemoteFile(t *testing.T) {
	srv := ftptest.NewServer()
	local := writeLocal(t, "big", bytes.Repeat([]byte("y"), 64*1024))
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.OnChunk = func(op, _ string, _ int) {
		if op == "stor" {
			cancel()
		}
	}

	cleaned := false
	err := newEngine(srv, rec).Upload(ctx, transfer.Job{
		Token: "t", Local: local, Remote: "/big", Creds: ftptest.Credentials(),
		Cleaned: func() { cleaned = true },
	})
	if !errors.Is(err, ftperr.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if srv.Exists("/big") {
		t.Error("expected partial remote file to be removed")
	}
	if !cleaned {
		t.Error("expected cleanup to be reported")
	}
	// передача и отдельная сессия удаления
	if srv.Opened() != 2 || srv.Closed() != 2 {
		t.Errorf("expected 2 opened and closed sessions, got %d/%d", srv.Opened(), srv.Closed())
	}
	for _, p := range rec.values() {
		if p == 100 {
			t.Error("cancelled upload must not report 100")
		}
	}
}

func TestUploadFinalizeFailure(t *testing.T) {
	srv := ftptest.NewServer()
	srv.FailStorFinalize(ftptest.Reply(451, "Requested action aborted"))
	local := writeLocal(t, "f", []byte("payload"))
	rec := &recorder{}

	err := newEngine(srv, rec).Upload(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/f", Creds: ftptest.Credentials(),
	})
	if !errors.Is(err, ftperr.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if srv.Exists("/f") {
		t.Error("expected partial remote file to be removed")
	}
	for _, p := range rec.values() {
		if p == 100 {
			t.Error("failed upload must not report 100")
		}
	}
}

func TestUploadBrokenControlConnection(t *testing.T) {
	srv := ftptest.NewServer()
	srv.DropStorFinalize(errors.New("read tcp 127.0.0.1:21: connection reset by peer"))
	local := writeLocal(t, "f", []byte("payload"))

	cleaned := false
	err := newEngine(srv, &recorder{}).Upload(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/f", Creds: ftptest.Credentials(),
		Cleaned: func() { cleaned = true },
	})
	if !errors.Is(err, ftperr.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if srv.Exists("/f") {
		t.Error("expected partial remote file to be removed in a new session")
	}
	if !cleaned {
		t.Error("expected cleanup to be reported")
	}
	if srv.Opened() != 2 {
		t.Errorf("expected transfer and cleanup sessions, got %d", srv.Opened())
	}
}

func TestUploadCancelOverTCP(t *testing.T) {
	srv := ftptest.NewServer()
	w, err := ftptest.NewWire(srv)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Close)
	local := writeLocal(t, "big", bytes.Repeat([]byte("w"), 1<<20))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{on: func(p int) {
		if p >= 1 {
			cancel()
		}
	}}
	d := session.NewDriver(session.Options{
		ConnectTimeout:  2 * time.Second,
		IdleTimeout:     5 * time.Second,
		ResponseTimeout: 5 * time.Second,
	}, zerolog.Nop())

	cleaned := false
	err = transfer.New(d, rec, zerolog.Nop()).Upload(ctx, transfer.Job{
		Token: "t", Local: local, Remote: "/big", Creds: w.Credentials(),
		Cleaned: func() { cleaned = true },
	})
	if !errors.Is(err, ftperr.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if srv.Exists("/big") {
		t.Error("expected partial remote file to be removed")
	}
	if !cleaned {
		t.Error("expected cleanup to be reported")
	}
	for _, p := range rec.values() {
		if p == 100 {
			t.Error("cancelled upload must not report 100")
		}
	}
}

func TestDownloadOverTCP(t *testing.T) {
	srv := ftptest.NewServer()
	data := bytes.Repeat([]byte("r"), 50000)
	srv.WriteFile("/src.bin", data)
	w, err := ftptest.NewWire(srv)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Close)
	local := filepath.Join(t.TempDir(), "src.bin")
	rec := &recorder{}

	d := session.NewDriver(session.Options{IdleTimeout: 5 * time.Second}, zerolog.Nop())
	err = transfer.New(d, rec, zerolog.Nop()).Download(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/src.bin", Creds: w.Credentials(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := os.ReadFile(local); !bytes.Equal(got, data) {
		t.Errorf("expected %d downloaded bytes, got %d", len(data), len(got))
	}
	assertProgress(t, rec.values(), 100)
}

func TestUploadMissingLocalFile(t *testing.T) {
	srv := ftptest.NewServer()
	err := newEngine(srv, &recorder{}).Upload(context.Background(), transfer.Job{
		Token: "t", Local: filepath.Join(t.TempDir(), "nope"), Remote: "/nope", Creds: ftptest.Credentials(),
	})
	if !errors.Is(err, ftperr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if srv.Opened() != 0 {
		t.Errorf("expected no sessions, got %d", srv.Opened())
	}
}

func TestDownload(t *testing.T) {
	srv := ftptest.NewServer()
	data := bytes.Repeat([]byte("z"), 9000)
	srv.WriteFile("/src/b.bin", data)
	local := filepath.Join(t.TempDir(), "nested", "dir", "b.bin")
	rec := &recorder{}

	cleaned := false
	err := newEngine(srv, rec).Download(context.Background(), transfer.Job{
		Token: local + "<=/src/b.bin", Local: local, Remote: "/src/b.bin", Creds: ftptest.Credentials(),
		Cleaned: func() { cleaned = true },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(local)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("expected downloaded content, got %d bytes (%v)", len(got), err)
	}
	assertProgress(t, rec.values(), 100)
	if !cleaned {
		t.Error("expected successful download to leave no partial artifacts")
	}
}

func TestDownloadLocalFileExists(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/f", []byte("remote"))
	local := writeLocal(t, "f", []byte("local"))

	err := newEngine(srv, &recorder{}).Download(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/f", Creds: ftptest.Credentials(),
	})
	if !errors.Is(err, ftperr.ErrLocalFileExists) {
		t.Fatalf("expected ErrLocalFileExists, got %v", err)
	}
	if got, _ := os.ReadFile(local); string(got) != "local" {
		t.Errorf("expected local file untouched, got %q", got)
	}
	if srv.Opened() != 0 {
		t.Errorf("expected no sessions, got %d", srv.Opened())
	}
}

func TestDownloadSizeQueryFailed(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/f", []byte("data"))
	srv.FailSize("/f", ftptest.Reply(502, "SIZE not implemented"))
	local := filepath.Join(t.TempDir(), "f")

	err := newEngine(srv, &recorder{}).Download(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/f", Creds: ftptest.Credentials(),
	})
	if !errors.Is(err, ftperr.ErrSizeQueryFailed) {
		t.Fatalf("expected ErrSizeQueryFailed, got %v", err)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("expected no local file to be created")
	}
}

func TestDownloadDirectoryRemote(t *testing.T) {
	srv := ftptest.NewServer()
	err := newEngine(srv, &recorder{}).Download(context.Background(), transfer.Job{
		Token: "t", Local: filepath.Join(t.TempDir(), "x"), Remote: "/dir/", Creds: ftptest.Credentials(),
	})
	if !errors.Is(err, ftperr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDownloadCancelRemovesLocalFile(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/big", bytes.Repeat([]byte("q"), 64*1024))
	local := filepath.Join(t.TempDir(), "big")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.OnChunk = func(op, _ string, _ int) {
		if op == "retr" {
			cancel()
		}
	}

	cleaned := false
	err := newEngine(srv, &recorder{}).Download(ctx, transfer.Job{
		Token: "t", Local: local, Remote: "/big", Creds: ftptest.Credentials(),
		Cleaned: func() { cleaned = true },
	})
	if !errors.Is(err, ftperr.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("expected partial local file to be removed")
	}
	if !srv.Exists("/big") {
		t.Error("expected remote file untouched")
	}
	if !cleaned {
		t.Error("expected cleanup to be reported")
	}
	if srv.Opened() != 1 {
		t.Errorf("expected a single session, got %d", srv.Opened())
	}
}

func TestDownloadFinalizeFailure(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/f", []byte("payload"))
	srv.FailRetrFinalize(ftptest.Reply(426, "Connection closed; transfer aborted"))
	local := filepath.Join(t.TempDir(), "f")
	rec := &recorder{}

	err := newEngine(srv, rec).Download(context.Background(), transfer.Job{
		Token: "t", Local: local, Remote: "/f", Creds: ftptest.Credentials(),
	})
	if !errors.Is(err, ftperr.ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("expected partial local file to be removed")
	}
	for _, p := range rec.values() {
		if p == 100 {
			t.Error("failed download must not report 100")
		}
	}
}

func TestResolveLocalPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		local, remote, want string
	}{
		{dir, "/a/b.txt", filepath.Join(dir, "b.txt")},
		{dir + "/", "/a/c.txt", filepath.Join(dir, "c.txt")},
		{filepath.Join(dir, "new.txt"), "/a/d.txt", filepath.Join(dir, "new.txt")},
	}
	for _, tt := range tests {
		if got := transfer.ResolveLocalPath(tt.local, tt.remote); got != tt.want {
			t.Errorf("ResolveLocalPath(%q, %q): expected %q, got %q", tt.local, tt.remote, tt.want, got)
		}
	}
}
