package session_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"ftp_bridge/internal/ftperr"
	"ftp_bridge/internal/ftptest"
	"ftp_bridge/internal/session"
)

func newDriver(srv *ftptest.Server) *session.Driver {
	return session.NewDriver(srv.Options(), zerolog.Nop())
}

func TestWithSessionClosesOnEveryExit(t *testing.T) {
	srv := ftptest.NewServer()
	d := newDriver(srv)
	ctx := context.Background()

	if err := d.WithSession(ctx, ftptest.Credentials(), "noop", func(session.Conn) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	err := d.WithSession(ctx, ftptest.Credentials(), "fail", func(session.Conn) error { return boom })
	if !errors.Is(err, boom) || !errors.Is(err, ftperr.ErrIOFailure) {
		t.Errorf("expected boom classified as io failure, got %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = d.WithSession(ctx, ftptest.Credentials(), "panic", func(session.Conn) error { panic("kaboom") })
	}()

	if srv.Opened() != 3 || srv.Closed() != 3 {
		t.Errorf("expected 3 opened and 3 closed sessions, got %d/%d", srv.Opened(), srv.Closed())
	}
}

func TestWithSessionLoginFailed(t *testing.T) {
	srv := ftptest.NewServer()
	d := newDriver(srv)
	creds := ftptest.Credentials()
	creds.Password = "wrong"

	called := false
	err := d.WithSession(context.Background(), creds, "list", func(session.Conn) error {
		called = true
		return nil
	})
	if !errors.Is(err, ftperr.ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	if called {
		t.Error("operation must not run after failed login")
	}
	if srv.Closed() != 1 {
		t.Errorf("expected connection to be closed, got %d closed", srv.Closed())
	}
}

func TestWithSessionRequiresCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds session.Credentials
	}{
		{"empty", session.Credentials{}},
		{"no host", session.Credentials{Port: 21, Username: "u", Password: "p"}},
		{"bad port", session.Credentials{Host: "h", Port: 70000, Username: "u", Password: "p"}},
		{"no user", session.Credentials{Host: "h", Port: 21, Password: "p"}},
		{"no password", session.Credentials{Host: "h", Port: 21, Username: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ftptest.NewServer()
			err := newDriver(srv).WithSession(context.Background(), tt.creds, "list", func(session.Conn) error { return nil })
			if !errors.Is(err, ftperr.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
			if srv.Opened() != 0 {
				t.Errorf("expected no network activity, got %d sessions", srv.Opened())
			}
		})
	}
}

func TestWithSessionProtocolError(t *testing.T) {
	srv := ftptest.NewServer()
	err := newDriver(srv).WithSession(context.Background(), ftptest.Credentials(), "mkdir", func(c session.Conn) error {
		return c.MakeDir("/missing/child")
	})
	if !errors.Is(err, ftperr.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if code, _ := ftperr.ReplyCode(err); code != 550 {
		t.Errorf("expected reply code 550, got %d", code)
	}
}

func TestWithSessionCancelledContext(t *testing.T) {
	srv := ftptest.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newDriver(srv).WithSession(ctx, ftptest.Credentials(), "list", func(session.Conn) error { return nil })
	if !errors.Is(err, ftperr.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestRemoteSize(t *testing.T) {
	srv := ftptest.NewServer()
	srv.WriteFile("/data/file.bin", make([]byte, 1234))
	d := newDriver(srv)

	var size int64
	err := d.WithSession(context.Background(), ftptest.Credentials(), "size", func(c session.Conn) error {
		var err error
		size, err = session.RemoteSize(c, "/data/file.bin")
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 1234 {
		t.Errorf("expected 1234, got %d", size)
	}
}

func TestRemoteSizeMissingFile(t *testing.T) {
	srv := ftptest.NewServer()
	d := newDriver(srv)

	err := d.WithSession(context.Background(), ftptest.Credentials(), "size", func(c session.Conn) error {
		_, err := session.RemoteSize(c, "/nope.bin")
		return err
	})
	if !errors.Is(err, ftperr.ErrSizeQueryFailed) {
		t.Errorf("expected ErrSizeQueryFailed, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if err := session.Classify("list", "/", ftptest.Reply(550, "denied")); !errors.Is(err, ftperr.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
	if err := session.Classify("list", "/", io.ErrUnexpectedEOF); !errors.Is(err, ftperr.ErrIOFailure) {
		t.Errorf("expected ErrIOFailure, got %v", err)
	}
	typed := ftperr.E(ftperr.ErrCancelled, "upload", "", nil)
	if err := session.Classify("list", "/", typed); err != typed {
		t.Errorf("expected typed error to pass through, got %v", err)
	}
	if !session.IsNotFound(ftptest.Reply(550, "no such file")) {
		t.Error("expected 550 to be reported as not found")
	}
}
