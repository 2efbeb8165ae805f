// Package ftpclient объединяет настройку FTP-моста, операции с удалёнными файлами
// и асинхронные передачи с отменой по токену.
package ftpclient

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ftp_bridge/internal/events"
	"ftp_bridge/internal/ftperr"
	"ftp_bridge/internal/registry"
	"ftp_bridge/internal/session"
	"ftp_bridge/internal/transfer"
	"ftp_bridge/internal/walker"
)

// TimestampLayout задаёт ISO-8601 с миллисекундами и смещением
const TimestampLayout = "2006-01-02T15:04:05.000-07:00"

// DefaultZone задаёт фиксированную зону для отметок времени в листингах
var DefaultZone = time.FixedZone("CET", 60*60)

// EntryType представляет тип записи каталога
type EntryType string

const (
	TypeFile    EntryType = "file"
	TypeDir     EntryType = "dir"
	TypeLink    EntryType = "link"
	TypeUnknown EntryType = "unknown"
)

// Entry представляет запись удалённого каталога
type Entry struct {
	Name      string
	Size      int64
	Type      EntryType
	Timestamp time.Time
}

// Config задаёт параметры клиента
type Config struct {
	Session      session.Options
	MaxUploads   int
	MaxDownloads int
	ChunkSize    int
	Zone         *time.Location
}

// Client выполняет операции над сервером. Каждая операция открывает свою сессию,
// поэтому методы можно вызывать параллельно.
type Client struct {
	mu         sync.RWMutex
	creds      session.Credentials
	configured bool

	driver   *session.Driver
	engine   *transfer.Engine
	registry *registry.Registry
	sink     events.Sink
	zone     *time.Location
	group    singleflight.Group
	log      zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc
}

// New создаёт клиент. Перед операциями нужно вызвать Configure.
func New(cfg Config, sink events.Sink, log zerolog.Logger) *Client {
	if sink == nil {
		sink = events.Discard{}
	}
	if cfg.Zone == nil {
		cfg.Zone = DefaultZone
	}
	ctx, stop := context.WithCancel(context.Background())
	c := &Client{
		driver: session.NewDriver(cfg.Session, log),
		sink:   sink,
		zone:   cfg.Zone,
		log:    log.With().Str("component", "client").Logger(),
		ctx:    ctx,
		stop:   stop,
	}
	c.registry = registry.New(cfg.MaxUploads, cfg.MaxDownloads, func(t *registry.Task, err error) {
		c.sink.Finished(t.Token, err)
	}, log)
	progress := events.Funcs{OnProgress: func(token string, p int) {
		if t, ok := c.registry.Lookup(token); ok {
			t.SetPercentage(p)
		}
		c.sink.Progress(token, p)
	}}
	c.engine = transfer.New(c.driver, progress, log, transfer.WithChunkSize(cfg.ChunkSize))
	return c
}

// Configure сохраняет учётные данные для последующих операций. Сеть не используется.
func (c *Client) Configure(host string, port int, username, password string) error {
	creds := session.Credentials{Host: host, Port: port, Username: username, Password: password}
	if err := creds.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	c.configured = true
	c.log.Info().Str("addr", creds.Addr()).Str("user", username).Msg("client configured")
	return nil
}

func (c *Client) credentials(op string) (session.Credentials, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.configured {
		return session.Credentials{}, ftperr.E(ftperr.ErrConfiguration, op, "", fmt.Errorf("client is not configured"))
	}
	return c.creds, nil
}

// Zone возвращает зону, в которой форматируются отметки времени
func (c *Client) Zone() *time.Location { return c.zone }

// FormatTimestamp форматирует время записи для внешних клиентов
func (c *Client) FormatTimestamp(t time.Time) string {
	return t.In(c.zone).Format(TimestampLayout)
}

// List возвращает содержимое каталога без "." и "..".
// Одновременные запросы одного каталога выполняются одним LIST.
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	creds, err := c.credentials("list")
	if err != nil {
		return nil, err
	}
	v, shared, err := c.shared(ctx, "list", dir, flightKey(creds, "list", dir), func(ctx context.Context) (any, error) {
		var out []Entry
		err := c.driver.WithSession(ctx, creds, "list", func(conn session.Conn) error {
			entries, err := conn.List(dir)
			if err != nil {
				return session.Classify("list", dir, err)
			}
			out = make([]Entry, 0, len(entries))
			for _, e := range entries {
				if e.Name == "." || e.Name == ".." {
					continue
				}
				out = append(out, toEntry(e))
			}
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	entries := v.([]Entry)
	if shared {
		entries = append([]Entry(nil), entries...)
	}
	return entries, nil
}

// shared выполняет fn один раз для всех одновременных вызовов с ключом key.
// fn работает в контексте клиента, а не первого вызывающего: его уход не обрывает
// запрос остальным. Каждый вызывающий перестаёт ждать при отмене своего ctx.
func (c *Client) shared(ctx context.Context, op, p, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, ftperr.E(ftperr.ErrCancelled, op, p, err)
	}
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(c.ctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ftperr.E(ftperr.ErrCancelled, op, p, ctx.Err())
	}
}

// Remove удаляет файл. Путь с завершающим "/" удаляется как каталог вместе с содержимым.
func (c *Client) Remove(ctx context.Context, p string) error {
	creds, err := c.credentials("remove")
	if err != nil {
		return err
	}
	return c.driver.WithSession(ctx, creds, "remove", func(conn session.Conn) error {
		if strings.HasSuffix(p, "/") {
			return walker.RemoveRecursively(conn, p)
		}
		if err := conn.Delete(p); err != nil {
			return session.Classify("delete", p, err)
		}
		return nil
	})
}

// MakeDirectory создаёт каталог
func (c *Client) MakeDirectory(ctx context.Context, p string) error {
	creds, err := c.credentials("mkdir")
	if err != nil {
		return err
	}
	return c.driver.WithSession(ctx, creds, "mkdir", func(conn session.Conn) error {
		if err := conn.MakeDir(p); err != nil {
			return session.Classify("mkdir", p, err)
		}
		return nil
	})
}

// CheckFileExists ищет запись name в каталоге dir. Отсутствующий каталог означает false.
func (c *Client) CheckFileExists(ctx context.Context, dir, name string) (bool, error) {
	creds, err := c.credentials("exists")
	if err != nil {
		return false, err
	}
	found := false
	err = c.driver.WithSession(ctx, creds, "exists", func(conn session.Conn) error {
		entries, err := conn.List(dir)
		if err != nil {
			if session.IsNotFound(err) {
				return nil
			}
			return session.Classify("list", dir, err)
		}
		for _, e := range entries {
			if e.Name == name {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

// MoveOrRename переименовывает или перемещает файл или каталог
func (c *Client) MoveOrRename(ctx context.Context, from, to string) error {
	creds, err := c.credentials("move")
	if err != nil {
		return err
	}
	return c.driver.WithSession(ctx, creds, "move", func(conn session.Conn) error {
		if err := conn.Rename(from, to); err != nil {
			return session.Classify("rename", from, err)
		}
		return nil
	})
}

// FolderSize возвращает суммарный размер файлов каталога и всех подкаталогов
func (c *Client) FolderSize(ctx context.Context, dir string) (int64, error) {
	creds, err := c.credentials("size")
	if err != nil {
		return 0, err
	}
	v, _, err := c.shared(ctx, "folder size", dir, flightKey(creds, "du", dir), func(ctx context.Context) (any, error) {
		var total int64
		err := c.driver.WithSession(ctx, creds, "folder size", func(conn session.Conn) error {
			var err error
			total, err = walker.ComputeSize(conn, dir)
			return err
		})
		return total, err
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// RemoteSize возвращает размер удалённого файла по команде SIZE
func (c *Client) RemoteSize(ctx context.Context, p string) (int64, error) {
	creds, err := c.credentials("size")
	if err != nil {
		return 0, err
	}
	var size int64
	err = c.driver.WithSession(ctx, creds, "size", func(conn session.Conn) error {
		var err error
		size, err = session.RemoteSize(conn, p)
		return err
	})
	return size, err
}

// UploadFile запускает загрузку и сразу возвращает задачу.
// Проверки аргументов выполняются синхронно, до регистрации.
func (c *Client) UploadFile(localPath, remotePath string) (*registry.Task, error) {
	creds, err := c.credentials("upload")
	if err != nil {
		return nil, err
	}
	local, err := normalizeLocal(localPath)
	if err != nil {
		return nil, ftperr.E(ftperr.ErrInvalidArgument, "upload", localPath, err)
	}
	if remotePath == "" || strings.HasSuffix(remotePath, "/") {
		return nil, ftperr.E(ftperr.ErrInvalidArgument, "upload", remotePath, fmt.Errorf("remote path must name a file"))
	}
	info, err := os.Stat(local)
	if err != nil {
		return nil, ftperr.E(ftperr.ErrInvalidArgument, "upload", local, err)
	}
	if info.IsDir() {
		return nil, ftperr.E(ftperr.ErrInvalidArgument, "upload", local, fmt.Errorf("local path is a directory"))
	}

	return c.registry.Start(c.ctx, registry.Spec{
		Direction: registry.Upload,
		Local:     local,
		Remote:    remotePath,
		Cleanup: func(ctx context.Context) error {
			return c.engine.RemoveRemote(ctx, creds, remotePath)
		},
	}, func(ctx context.Context, t *registry.Task) error {
		return c.engine.Upload(ctx, transfer.Job{
			Token:   t.Token,
			Local:   local,
			Remote:  remotePath,
			Creds:   creds,
			Cleaned: t.MarkCleaned,
		})
	})
}

// DownloadFile запускает скачивание и сразу возвращает задачу.
// Если localPath указывает на каталог, файл сохраняется в нём под именем удалённого файла.
func (c *Client) DownloadFile(localPath, remotePath string) (*registry.Task, error) {
	creds, err := c.credentials("download")
	if err != nil {
		return nil, err
	}
	if remotePath == "" || strings.HasSuffix(remotePath, "/") {
		return nil, ftperr.E(ftperr.ErrInvalidArgument, "download", remotePath, fmt.Errorf("remote path is a directory"))
	}
	local, err := normalizeLocal(localPath)
	if err != nil {
		return nil, ftperr.E(ftperr.ErrInvalidArgument, "download", localPath, err)
	}
	local = transfer.ResolveLocalPath(local, remotePath)
	if _, err := os.Lstat(local); err == nil {
		return nil, ftperr.E(ftperr.ErrLocalFileExists, "download", local, nil)
	}

	return c.registry.Start(c.ctx, registry.Spec{
		Direction: registry.Download,
		Local:     local,
		Remote:    remotePath,
		Cleanup: func(context.Context) error {
			return transfer.RemoveLocal(local)
		},
	}, func(ctx context.Context, t *registry.Task) error {
		return c.engine.Download(ctx, transfer.Job{
			Token:   t.Token,
			Local:   local,
			Remote:  remotePath,
			Creds:   creds,
			Cleaned: t.MarkCleaned,
		})
	})
}

// CancelUpload отменяет загрузку и ждёт удаления частичного файла
func (c *Client) CancelUpload(ctx context.Context, token string) error {
	return c.registry.Cancel(ctx, registry.Upload, token)
}

// CancelDownload отменяет скачивание и ждёт удаления частичного файла
func (c *Client) CancelDownload(ctx context.Context, token string) error {
	return c.registry.Cancel(ctx, registry.Download, token)
}

// Status возвращает состояние активной передачи
func (c *Client) Status(token string) (registry.Status, bool) {
	return c.registry.Status(token)
}

// Shutdown отменяет все передачи и ждёт их завершения
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.registry.CancelAll(ctx)
	c.stop()
	return err
}

func flightKey(creds session.Credentials, op, p string) string {
	return strings.Join([]string{op, creds.Addr(), creds.Username, p}, "\x00")
}

func toEntry(e *ftp.Entry) Entry {
	out := Entry{Name: e.Name, Size: clampSize(e.Size), Timestamp: e.Time}
	switch e.Type {
	case ftp.EntryTypeFile:
		out.Type = TypeFile
	case ftp.EntryTypeFolder:
		out.Type = TypeDir
	case ftp.EntryTypeLink:
		out.Type = TypeLink
	default:
		out.Type = TypeUnknown
	}
	return out
}

func clampSize(size uint64) int64 {
	if size > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(size)
}

// normalizeLocal принимает обычный путь или URI вида file:///path
func normalizeLocal(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("local path is empty")
	}
	if !strings.HasPrefix(p, "file://") {
		return p, nil
	}
	u, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("parsing local uri: %w", err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("local uri %q has no path", p)
	}
	return u.Path, nil
}
