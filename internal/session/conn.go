package session

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// Conn описывает подмножество методов *ftp.ServerConn, которое использует мост
type Conn interface {
	Login(user, password string) error
	Type(transferType ftp.TransferType) error
	List(path string) ([]*ftp.Entry, error)
	FileSize(path string) (int64, error)
	Stor(path string, r io.Reader) error
	Retr(path string) (io.ReadCloser, error)
	Delete(path string) error
	MakeDir(path string) error
	RemoveDir(path string) error
	Rename(from, to string) error
	Logout() error
	Quit() error
}

// DialFunc открывает управляющее соединение без аутентификации
type DialFunc func(ctx context.Context, creds Credentials, opts Options) (Conn, error)

// serverConn приводит *ftp.ServerConn к интерфейсу Conn
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DialFTP подключается к серверу через jlaffaye/ftp.
// Все соединения сессии (управляющее и соединения данных) проходят через deadlineConn.
func DialFTP(ctx context.Context, creds Credentials, opts Options) (Conn, error) {
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}

	sc, err := ftp.Dial(creds.Addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.ConnectTimeout),
		ftp.DialWithShutTimeout(opts.ResponseTimeout),
		ftp.DialWithDisabledEPSV(opts.DisableEPSV),
		ftp.DialWithLocation(opts.ServerLocation),
		ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, err
			}
			return newDeadlineConn(ctx, conn, opts.IdleTimeout), nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return serverConn{sc}, nil
}

// deadlineConn продлевает дедлайн перед каждой операцией чтения и записи,
// а при отмене контекста сбрасывает его, прерывая заблокированный вызов.
type deadlineConn struct {
	net.Conn
	timeout time.Duration

	mu      sync.Mutex
	aborted error
	stop    func() bool
}

func newDeadlineConn(ctx context.Context, conn net.Conn, timeout time.Duration) *deadlineConn {
	c := &deadlineConn{Conn: conn, timeout: timeout}
	c.stop = context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.aborted = ctx.Err()
		_ = c.Conn.SetDeadline(time.Now())
	})
	return c
}

func (c *deadlineConn) arm(set func(time.Time) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted != nil {
		return c.aborted
	}
	if c.timeout > 0 {
		return set(time.Now().Add(c.timeout))
	}
	return nil
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.arm(c.Conn.SetReadDeadline); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.arm(c.Conn.SetWriteDeadline); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

func (c *deadlineConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
