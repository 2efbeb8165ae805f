package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ftp_bridge/internal/ftperr"
	"ftp_bridge/internal/ftptest"
)

func run(t *testing.T, srv *ftptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&app{logOut: io.Discard, dial: srv.Dial})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	creds := []string{"--host", "ftp.test", "--user", ftptest.User, "--password", ftptest.Password}
	cmd.SetArgs(append(creds, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"serve", "ls", "rm", "mkdir", "mv", "exists", "du", "size", "put", "get"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("expected %s command, got %v", name, err)
			continue
		}
		if sub.RunE == nil {
			t.Errorf("%s: RunE is nil", name)
		}
	}
	if cmd.PersistentFlags().Lookup("host") == nil {
		t.Error("--host flag not found")
	}
}

func TestListCommand(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/data/a.txt", []byte("12345"))
	srv.MkdirAll("/data/sub")

	out, err := run(t, srv, "ls", "/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "file") || !strings.HasSuffix(lines[0], "a.txt") || !strings.Contains(lines[0], "2024-03-01T13:30:45.000+01:00") {
		t.Errorf("unexpected line %q", lines[0])
	}
}

func TestQueryCommands(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/d/a", make([]byte, 10))
	srv.WriteFile("/d/e/b", make([]byte, 20))

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"du", "/d"}, "30"},
		{[]string{"size", "/d/e/b"}, "20"},
		{[]string{"exists", "/d", "a"}, "true"},
		{[]string{"exists", "/d", "zzz"}, "false"},
	}
	for _, tt := range tests {
		out, err := run(t, srv, tt.args...)
		if err != nil {
			t.Errorf("%v: unexpected error: %v", tt.args, err)
			continue
		}
		if strings.TrimSpace(out) != tt.want {
			t.Errorf("%v: expected %q, got %q", tt.args, tt.want, out)
		}
	}
}

func TestModifyCommands(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/tree/x/y.txt", []byte("y"))

	if _, err := run(t, srv, "mkdir", "/new"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := run(t, srv, "mv", "/tree/x/y.txt", "/new/y.txt"); err != nil {
		t.Fatalf("mv: %v", err)
	}
	if _, err := run(t, srv, "rm", "/tree/"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if srv.Exists("/tree") || !srv.Exists("/new/y.txt") {
		t.Error("unexpected server state")
	}

	_, err := run(t, srv, "rm", "/missing")
	if !errors.Is(err, ftperr.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestPutAndGet(t *testing.T) {
	srv := ftptest.NewServer()
	dir := t.TempDir()
	local := filepath.Join(dir, "in.bin")
	data := bytes.Repeat([]byte("p"), 12345)
	if err := os.WriteFile(local, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, srv, "put", local, "/in.bin"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, _ := srv.ReadFile("/in.bin"); !bytes.Equal(got, data) {
		t.Fatalf("expected %d bytes on server, got %d", len(data), len(got))
	}

	outDir := filepath.Join(dir, "out") + string(filepath.Separator)
	if _, err := run(t, srv, "get", "/in.bin", outDir); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(dir, "out", "in.bin")); !bytes.Equal(got, data) {
		t.Errorf("expected downloaded content, got %d bytes", len(got))
	}

	_, err := run(t, srv, "get", "/in.bin", outDir)
	if !errors.Is(err, ftperr.ErrLocalFileExists) {
		t.Errorf("expected ErrLocalFileExists on second get, got %v", err)
	}
}

func TestMissingCredentials(t *testing.T) {
	t.Setenv("FTP_HOST", "")
	t.Setenv("FTP_USER", "")
	srv := ftptest.NewServer()
	cmd := newRootCmd(&app{logOut: io.Discard, dial: srv.Dial})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"ls", "/"})

	if err := cmd.Execute(); !errors.Is(err, ftperr.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	if srv.Opened() != 0 {
		t.Errorf("expected no sessions, got %d", srv.Opened())
	}
}
