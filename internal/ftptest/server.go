// Package ftptest предоставляет FTP-сервер в памяти для тестов.
package ftptest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlaffaye/ftp"

	"ftp_bridge/internal/session"
)

// Учётные данные по умолчанию
const (
	User     = "tester"
	Password = "secret"
)

// ModTime задаёт время изменения всех записей сервера
var ModTime = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

// Server хранит файлы и каталоги в памяти. Безопасен для параллельных сессий.
type Server struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	links map[string]string

	deleteErr map[string]error
	rmdirErr  map[string]error
	sizeErr   map[string]error
	listErr   map[string]error
	storErr   error
	storDrop  error
	retrErr   error

	// DotEntries добавляет "." и ".." в листинги
	DotEntries bool
	// OnChunk вызывается после каждого прочитанного при STOR/RETR блока
	OnChunk func(op, path string, n int)
	// OnList вызывается перед каждым LIST
	OnList func(path string)

	opened   atomic.Int32
	closed   atomic.Int32
	sizeCmds atomic.Int32
	lists    atomic.Int32
}

// NewServer создаёт сервер с пустым корневым каталогом
func NewServer() *Server {
	return &Server{
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"/": true},
		links:     make(map[string]string),
		deleteErr: make(map[string]error),
		rmdirErr:  make(map[string]error),
		sizeErr:   make(map[string]error),
		listErr:   make(map[string]error),
	}
}

// Credentials возвращает данные для входа на сервер
func Credentials() session.Credentials {
	return session.Credentials{Host: "ftp.test", Port: 21, Username: User, Password: Password}
}

// Options возвращает параметры драйвера, подключающие его к серверу
func (s *Server) Options() session.Options {
	return session.Options{Dial: s.Dial}
}

// Dial реализует session.DialFunc
func (s *Server) Dial(ctx context.Context, _ session.Credentials, _ session.Options) (session.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.opened.Add(1)
	return &conn{srv: s, ctx: ctx}, nil
}

// Opened и Closed считают открытые и закрытые сессии
func (s *Server) Opened() int { return int(s.opened.Load()) }
func (s *Server) Closed() int { return int(s.closed.Load()) }

// SizeCommands считает выполненные SIZE
func (s *Server) SizeCommands() int { return int(s.sizeCmds.Load()) }

// Lists считает выполненные LIST
func (s *Server) Lists() int { return int(s.lists.Load()) }

func clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// MkdirAll создаёт каталог вместе с родительскими
func (s *Server) MkdirAll(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(clean(p))
}

func (s *Server) mkdirAll(p string) {
	for p != "/" {
		s.dirs[p] = true
		p = path.Dir(p)
	}
}

// WriteFile кладёт файл, создавая родительские каталоги
func (s *Server) WriteFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAll(path.Dir(p))
	s.files[p] = append([]byte(nil), data...)
}

// Symlink добавляет символическую ссылку
func (s *Server) Symlink(p, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAll(path.Dir(p))
	s.links[p] = target
}

// ReadFile возвращает содержимое файла
func (s *Server) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[clean(p)]
	return append([]byte(nil), data...), ok
}

// Exists сообщает, есть ли файл, каталог или ссылка по пути
func (s *Server) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	_, file := s.files[p]
	_, link := s.links[p]
	return file || link || s.dirs[p]
}

// FailDelete заставляет DELE по пути вернуть err
func (s *Server) FailDelete(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr[clean(p)] = err
}

// FailRemoveDir заставляет RMD по пути вернуть err
func (s *Server) FailRemoveDir(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rmdirErr[clean(p)] = err
}

// FailSize заставляет SIZE по пути вернуть err
func (s *Server) FailSize(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizeErr[clean(p)] = err
}

// FailList заставляет LIST по пути вернуть err
func (s *Server) FailList(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr[clean(p)] = err
}

// FailStorFinalize заставляет STOR вернуть err после приёма всех данных
func (s *Server) FailStorFinalize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storErr = err
}

// DropStorFinalize заставляет STOR вернуть err после приёма всех данных
// и обрывает управляющее соединение: все следующие команды сессии тоже вернут err.
func (s *Server) DropStorFinalize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storDrop = err
}

// FailRetrFinalize заставляет закрытие RETR вернуть err
func (s *Server) FailRetrFinalize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrErr = err
}

// Reply создаёт ошибку протокола с кодом ответа
func Reply(code int, msg string) error {
	return &textproto.Error{Code: code, Msg: msg}
}

func notFound(p string) error {
	return Reply(ftp.StatusFileUnavailable, p+": No such file or directory")
}

// conn представляет одну сессию к серверу
type conn struct {
	srv      *Server
	ctx      context.Context
	loggedIn bool
	quit     bool
	broken   error
}

var errNotLoggedIn = Reply(ftp.StatusNotLoggedIn, "Please login with USER and PASS")

func (c *conn) check() error {
	if c.quit {
		return errors.New("use of closed connection")
	}
	if c.broken != nil {
		return c.broken
	}
	// как deadlineConn: после отмены сессии команды не доходят до сервера
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if !c.loggedIn {
		return errNotLoggedIn
	}
	return nil
}

func (c *conn) Login(user, password string) error {
	if user != User || password != Password {
		return Reply(ftp.StatusNotLoggedIn, "Login incorrect")
	}
	c.loggedIn = true
	return nil
}

func (c *conn) Type(ftp.TransferType) error {
	return c.check()
}

func (c *conn) List(p string) ([]*ftp.Entry, error) {
	c.srv.mu.Lock()
	hook := c.srv.OnList
	c.srv.mu.Unlock()
	if hook != nil {
		hook(clean(p))
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	s := c.srv
	s.lists.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = clean(p)
	if err := s.listErr[p]; err != nil {
		return nil, err
	}
	if !s.dirs[p] {
		return nil, notFound(p)
	}

	var entries []*ftp.Entry
	if s.DotEntries {
		entries = append(entries,
			&ftp.Entry{Name: ".", Type: ftp.EntryTypeFolder, Time: ModTime},
			&ftp.Entry{Name: "..", Type: ftp.EntryTypeFolder, Time: ModTime},
		)
	}
	var children []*ftp.Entry
	for d := range s.dirs {
		if d != p && path.Dir(d) == p {
			children = append(children, &ftp.Entry{Name: path.Base(d), Type: ftp.EntryTypeFolder, Time: ModTime})
		}
	}
	for f, data := range s.files {
		if path.Dir(f) == p {
			children = append(children, &ftp.Entry{Name: path.Base(f), Type: ftp.EntryTypeFile, Size: uint64(len(data)), Time: ModTime})
		}
	}
	for l, target := range s.links {
		if path.Dir(l) == p {
			children = append(children, &ftp.Entry{Name: path.Base(l), Type: ftp.EntryTypeLink, Target: target, Time: ModTime})
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return append(entries, children...), nil
}

func (c *conn) FileSize(p string) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	s := c.srv
	s.sizeCmds.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = clean(p)
	if err := s.sizeErr[p]; err != nil {
		return 0, err
	}
	data, ok := s.files[p]
	if !ok {
		return 0, notFound(p)
	}
	return int64(len(data)), nil
}

// Stor пишет данные по блокам, так что частично загруженный файл виден на сервере
func (c *conn) Stor(p string, r io.Reader) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	p = clean(p)

	s.mu.Lock()
	if !s.dirs[path.Dir(p)] {
		s.mu.Unlock()
		return notFound(path.Dir(p))
	}
	s.files[p] = nil
	s.mu.Unlock()

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			data, ok := s.files[p]
			if !ok {
				// файл удалили во время приёма
				s.mu.Unlock()
				return Reply(ftp.StatusTransfertAborted, p+": file removed during transfer")
			}
			s.files[p] = append(data, buf[:n]...)
			hook := s.OnChunk
			s.mu.Unlock()
			if hook != nil {
				hook("stor", p, n)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storDrop != nil {
		c.broken = s.storDrop
		return s.storDrop
	}
	return s.storErr
}

func (c *conn) Retr(p string) (io.ReadCloser, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	p = clean(p)
	data, ok := s.files[p]
	if !ok {
		return nil, notFound(p)
	}
	return &response{srv: s, path: p, r: bytes.NewReader(append([]byte(nil), data...))}, nil
}

func (c *conn) Delete(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	p = clean(p)
	if err := s.deleteErr[p]; err != nil {
		return err
	}
	if _, ok := s.files[p]; ok {
		delete(s.files, p)
		return nil
	}
	if _, ok := s.links[p]; ok {
		delete(s.links, p)
		return nil
	}
	return notFound(p)
}

func (c *conn) MakeDir(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	p = clean(p)
	if _, ok := s.files[p]; ok || s.dirs[p] {
		return Reply(ftp.StatusFileUnavailable, p+": File exists")
	}
	if !s.dirs[path.Dir(p)] {
		return notFound(path.Dir(p))
	}
	s.dirs[p] = true
	return nil
}

func (c *conn) RemoveDir(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	p = clean(p)
	if err := s.rmdirErr[p]; err != nil {
		return err
	}
	if !s.dirs[p] || p == "/" {
		return notFound(p)
	}
	for d := range s.dirs {
		if d != p && path.Dir(d) == p {
			return Reply(ftp.StatusFileUnavailable, p+": Directory not empty")
		}
	}
	for f := range s.files {
		if path.Dir(f) == p {
			return Reply(ftp.StatusFileUnavailable, p+": Directory not empty")
		}
	}
	for l := range s.links {
		if path.Dir(l) == p {
			return Reply(ftp.StatusFileUnavailable, p+": Directory not empty")
		}
	}
	delete(s.dirs, p)
	return nil
}

func (c *conn) Rename(from, to string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to = clean(from), clean(to)
	if !s.dirs[path.Dir(to)] {
		return notFound(path.Dir(to))
	}
	if data, ok := s.files[from]; ok {
		delete(s.files, from)
		s.files[to] = data
		return nil
	}
	if !s.dirs[from] || from == "/" {
		return notFound(from)
	}
	prefix := from + "/"
	var dirs, files []string
	for d := range s.dirs {
		if d == from || strings.HasPrefix(d, prefix) {
			dirs = append(dirs, d)
		}
	}
	for f := range s.files {
		if strings.HasPrefix(f, prefix) {
			files = append(files, f)
		}
	}
	for _, d := range dirs {
		delete(s.dirs, d)
	}
	for _, d := range dirs {
		s.dirs[to+strings.TrimPrefix(d, from)] = true
	}
	moved := make(map[string][]byte, len(files))
	for _, f := range files {
		moved[to+strings.TrimPrefix(f, from)] = s.files[f]
		delete(s.files, f)
	}
	for f, data := range moved {
		s.files[f] = data
	}
	return nil
}

func (c *conn) Logout() error {
	if c.quit {
		return errors.New("use of closed connection")
	}
	if c.broken != nil {
		return c.broken
	}
	c.loggedIn = false
	return nil
}

func (c *conn) Quit() error {
	if c.quit {
		return errors.New("use of closed connection")
	}
	c.quit = true
	c.srv.closed.Add(1)
	return c.broken
}

// response представляет канал данных RETR
type response struct {
	srv    *Server
	path   string
	r      *bytes.Reader
	closed bool
}

func (r *response) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.srv.mu.Lock()
		hook := r.srv.OnChunk
		r.srv.mu.Unlock()
		if hook != nil {
			hook("retr", r.path, n)
		}
	}
	return n, err
}

func (r *response) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.srv.mu.Lock()
	defer r.srv.mu.Unlock()
	return r.srv.retrErr
}
