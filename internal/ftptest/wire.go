package ftptest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"ftp_bridge/internal/session"
)

// Wire обслуживает Server по протоколу FTP поверх TCP на 127.0.0.1.
// Поддерживает только команды, которые отправляет jlaffaye/ftp при входе,
// SIZE, STOR, RETR, DELE и завершении сессии.
type Wire struct {
	srv  *Server
	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	holds map[string]*hold

	closeOnce sync.Once
}

type hold struct {
	reached     chan struct{}
	release     chan struct{}
	reachOnce   sync.Once
	releaseOnce sync.Once
}

// NewWire запускает TCP-сервер поверх srv
func NewWire(srv *Server) (*Wire, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	w := &Wire{
		srv:   srv,
		ln:    ln,
		done:  make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
		holds: make(map[string]*hold),
	}
	w.wg.Add(1)
	go w.serve()
	return w, nil
}

// Credentials возвращает данные для входа на этот сервер
func (w *Wire) Credentials() session.Credentials {
	addr := w.ln.Addr().(*net.TCPAddr)
	return session.Credentials{Host: addr.IP.String(), Port: addr.Port, Username: User, Password: Password}
}

// Hold задерживает ответ на команду verb. reached закрывается, когда команда пришла;
// ответ уходит после release или Close.
func (w *Wire) Hold(verb string) (reached <-chan struct{}, release func()) {
	h := &hold{reached: make(chan struct{}), release: make(chan struct{})}
	w.mu.Lock()
	w.holds[verb] = h
	w.mu.Unlock()
	return h.reached, func() { h.releaseOnce.Do(func() { close(h.release) }) }
}

// Close останавливает сервер и рвёт все соединения
func (w *Wire) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.ln.Close()
		w.mu.Lock()
		for c := range w.conns {
			_ = c.Close()
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Wire) serve() {
	defer w.wg.Done()
	for {
		nc, err := w.ln.Accept()
		if err != nil {
			return
		}
		w.mu.Lock()
		select {
		case <-w.done:
			w.mu.Unlock()
			_ = nc.Close()
			return
		default:
		}
		w.conns[nc] = struct{}{}
		w.mu.Unlock()

		w.wg.Add(1)
		go w.handle(nc)
	}
}

func (w *Wire) wait(verb string) bool {
	w.mu.Lock()
	h := w.holds[verb]
	w.mu.Unlock()
	if h == nil {
		return true
	}
	h.reachOnce.Do(func() { close(h.reached) })
	select {
	case <-h.release:
		return true
	case <-w.done:
		return false
	}
}

func (w *Wire) handle(nc net.Conn) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.conns, nc)
		w.mu.Unlock()
		_ = nc.Close()
	}()

	w.srv.opened.Add(1)
	s := &wireSession{
		tc: textproto.NewConn(nc),
		c:  &conn{srv: w.srv, ctx: context.Background()},
	}
	defer s.closePassive()

	if err := s.tc.PrintfLine("%d ftptest ready", ftp.StatusReady); err != nil {
		return
	}
	for {
		line, err := s.tc.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)
		if !w.wait(verb) {
			return
		}
		if quit := s.exec(verb, arg); quit {
			return
		}
	}
}

// wireSession переводит команды протокола в вызовы conn
type wireSession struct {
	tc      *textproto.Conn
	c       *conn
	user    string
	passive net.Listener
}

func (s *wireSession) reply(code int, format string, args ...any) {
	_ = s.tc.PrintfLine("%d %s", code, fmt.Sprintf(format, args...))
}

func (s *wireSession) fail(err error) {
	var pe *textproto.Error
	if errors.As(err, &pe) {
		s.reply(pe.Code, "%s", pe.Msg)
		return
	}
	s.reply(ftp.StatusActionAborted, "%v", err)
}

func (s *wireSession) exec(verb, arg string) (quit bool) {
	switch verb {
	case "USER":
		s.user = arg
		s.reply(ftp.StatusUserOK, "Password required for %s", arg)
	case "PASS":
		if err := s.c.Login(s.user, arg); err != nil {
			s.fail(err)
			return false
		}
		s.reply(ftp.StatusLoggedIn, "Logged in")
	case "FEAT":
		_ = s.tc.PrintfLine("%d-Features:", ftp.StatusSystem)
		_ = s.tc.PrintfLine(" SIZE")
		_ = s.tc.PrintfLine(" EPSV")
		s.reply(ftp.StatusSystem, "End")
	case "TYPE", "OPTS":
		s.reply(ftp.StatusCommandOK, "OK")
	case "EPSV", "PASV":
		port, err := s.listenPassive()
		if err != nil {
			s.fail(err)
			return false
		}
		if verb == "EPSV" {
			s.reply(ftp.StatusExtendedPassiveMode, "Entering Extended Passive Mode (|||%d|)", port)
		} else {
			s.reply(ftp.StatusPassiveMode, "Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
		}
	case "SIZE":
		size, err := s.c.FileSize(arg)
		if err != nil {
			s.fail(err)
			return false
		}
		s.reply(ftp.StatusFile, "%d", size)
	case "STOR":
		s.stor(arg)
	case "RETR":
		s.retr(arg)
	case "DELE":
		if err := s.c.Delete(arg); err != nil {
			s.fail(err)
			return false
		}
		s.reply(ftp.StatusRequestedFileActionOK, "Deleted")
	case "REIN":
		if err := s.c.Logout(); err != nil {
			s.fail(err)
			return false
		}
		s.reply(ftp.StatusReady, "Service ready")
	case "QUIT":
		_ = s.c.Quit()
		s.reply(ftp.StatusClosing, "Goodbye")
		return true
	default:
		s.reply(ftp.StatusNotImplemented, "%s not implemented", verb)
	}
	return false
}

func (s *wireSession) listenPassive() (int, error) {
	s.closePassive()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	s.passive = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *wireSession) closePassive() {
	if s.passive != nil {
		_ = s.passive.Close()
		s.passive = nil
	}
}

func (s *wireSession) acceptData() (net.Conn, error) {
	if s.passive == nil {
		return nil, Reply(ftp.StatusCanNotOpenDataConnection, "Use PASV or EPSV first")
	}
	defer s.closePassive()
	if tl, ok := s.passive.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	return s.passive.Accept()
}

func (s *wireSession) stor(p string) {
	dc, err := s.acceptData()
	if err != nil {
		s.fail(err)
		return
	}
	s.reply(ftp.StatusAboutToSend, "Opening data connection for %s", p)
	err = s.c.Stor(p, dc)
	_ = dc.Close()
	if err != nil {
		s.fail(err)
		return
	}
	s.reply(ftp.StatusClosingDataConnection, "Transfer complete")
}

func (s *wireSession) retr(p string) {
	rc, err := s.c.Retr(p)
	if err != nil {
		s.closePassive()
		s.fail(err)
		return
	}
	dc, err := s.acceptData()
	if err != nil {
		s.fail(err)
		return
	}
	s.reply(ftp.StatusAboutToSend, "Opening data connection for %s", p)
	_, copyErr := io.Copy(dc, rc)
	_ = dc.Close()
	if err := rc.Close(); err != nil {
		s.fail(err)
		return
	}
	if copyErr != nil {
		s.fail(Reply(ftp.StatusTransfertAborted, "Connection closed; transfer aborted"))
		return
	}
	s.reply(ftp.StatusClosingDataConnection, "Transfer complete")
}
