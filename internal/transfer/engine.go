// Package transfer передаёт байты между локальным и удалённым файлом,
// сообщая прогресс и проверяя отмену между блоками.
package transfer

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ftp_bridge/internal/events"
	"ftp_bridge/internal/session"
)

// DefaultChunkSize задаёт размер блока копирования
const DefaultChunkSize = 4096

// Job описывает одну передачу
type Job struct {
	Token  string
	Local  string // для скачивания уже разрешённый путь к файлу
	Remote string
	Creds  session.Credentials
	// Cleaned вызывается, если после завершения не осталось частичных файлов
	Cleaned func()
}

func (j Job) markCleaned() {
	if j.Cleaned != nil {
		j.Cleaned()
	}
}

// Engine выполняет загрузки и скачивания. Каждая передача открывает свою сессию.
type Engine struct {
	driver         *session.Driver
	sink           events.Sink
	log            zerolog.Logger
	chunk          int
	cleanupTimeout time.Duration
}

// Option настраивает Engine
type Option func(*Engine)

// WithChunkSize задаёт размер блока
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunk = n
		}
	}
}

// WithCleanupTimeout ограничивает время удаления частичного файла после отмены
func WithCleanupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cleanupTimeout = d
		}
	}
}

// New создаёт движок передач
func New(driver *session.Driver, sink events.Sink, log zerolog.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = events.Discard{}
	}
	e := &Engine{
		driver:         driver,
		sink:           sink,
		log:            log.With().Str("component", "transfer").Logger(),
		chunk:          DefaultChunkSize,
		cleanupTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RemoveRemote удаляет удалённый файл в новой сессии. Отсутствие файла не ошибка.
func (e *Engine) RemoveRemote(ctx context.Context, creds session.Credentials, remote string) error {
	return e.driver.WithSession(ctx, creds, "cleanup", func(conn session.Conn) error {
		if err := conn.Delete(remote); err != nil && !session.IsNotFound(err) {
			return session.Classify("delete", remote, err)
		}
		return nil
	})
}

// RemoveLocal удаляет локальный файл. Отсутствие файла не ошибка.
func RemoveLocal(local string) error {
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ResolveLocalPath возвращает путь к файлу назначения.
// Если local указывает на каталог или оканчивается разделителем, к нему добавляется имя удалённого файла.
func ResolveLocalPath(local, remote string) string {
	if strings.HasSuffix(local, "/") || strings.HasSuffix(local, string(filepath.Separator)) {
		return filepath.Join(local, path.Base(remote))
	}
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return filepath.Join(local, path.Base(remote))
	}
	return local
}
