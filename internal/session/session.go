// Package session управляет одним управляющим FTP-соединением на время одной операции.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"

	"ftp_bridge/internal/ftperr"
)

// DefaultTimeout используется для всех таймаутов, которые не заданы явно
const DefaultTimeout = 10 * time.Second

// Options задаёт параметры подключения
type Options struct {
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration // дедлайн чтения/записи сокета
	ResponseTimeout time.Duration // ожидание ответа сервера после закрытия канала данных
	DisableEPSV     bool
	ServerLocation  *time.Location // часовой пояс, в котором сервер отдаёт LIST
	Dial            DialFunc
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultTimeout
	}
	if o.Dial == nil {
		o.Dial = DialFTP
	}
	return o
}

// Driver открывает сессии. Соединения не переиспользуются между операциями.
type Driver struct {
	opts Options
	log  zerolog.Logger
}

// NewDriver создаёт драйвер сессий
func NewDriver(opts Options, log zerolog.Logger) *Driver {
	return &Driver{
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "session").Logger(),
	}
}

// WithSession подключается, входит на сервер, вызывает fn и всегда закрывает соединение.
// fn не должна сохранять conn после возврата.
func (d *Driver) WithSession(ctx context.Context, creds Credentials, op string, fn func(conn Conn) error) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ftperr.E(ftperr.ErrCancelled, op, "", err)
	}

	log := d.log.With().Str("session", uuid.NewString()).Str("op", op).Logger()
	log.Debug().Str("addr", creds.Addr()).Msg("connecting")

	conn, err := d.opts.Dial(ctx, creds, d.opts)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, op, err, log)
		}
		return ftperr.E(ftperr.ErrLoginFailed, op, "", fmt.Errorf("connecting to %s: %w", creds.Addr(), err))
	}
	defer d.teardown(ctx, conn, log)

	if err := conn.Login(creds.Username, creds.Password); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, op, err, log)
		}
		return ftperr.E(ftperr.ErrLoginFailed, op, "", fmt.Errorf("authentication failed for user %s: %w", creds.Username, err))
	}
	log.Debug().Msg("logged in")

	if err := fn(conn); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, op, err, log)
		}
		return Classify(op, "", err)
	}
	return nil
}

// interrupted заменяет ошибку, вызванную отменой ctx, на ErrCancelled.
// Вид исходной ошибки (таймаут, сбой входа, SIZE) не сохраняется.
func interrupted(ctx context.Context, op string, err error, log zerolog.Logger) error {
	if ftperr.KindOf(err) == ftperr.ErrCancelled {
		return err
	}
	log.Debug().Err(err).Msg("operation interrupted")
	return ftperr.E(ftperr.ErrCancelled, op, "", fmt.Errorf("%w (%v)", ctx.Err(), err))
}

// teardown пытается выйти и отключиться; ошибки только логируются
func (d *Driver) teardown(ctx context.Context, conn Conn, log zerolog.Logger) {
	var errs *multierror.Error
	if err := conn.Logout(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("logout: %w", err))
	}
	quitErr := conn.Quit()
	if quitErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("disconnect: %w", quitErr))
	}
	if err := errs.ErrorOrNil(); err != nil {
		// REIN поддерживают не все серверы, а после отмены соединение уже прервано
		if quitErr != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("session teardown failed")
		} else {
			log.Debug().Err(err).Msg("session teardown")
		}
		return
	}
	log.Debug().Msg("session closed")
}

// Classify переводит ошибку транспорта или протокола в типизированную.
// Уже типизированные ошибки возвращаются как есть.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if ftperr.KindOf(err) != nil {
		return err
	}
	if isContextErr(err) {
		return ftperr.E(ftperr.ErrCancelled, op, path, err)
	}
	var pe *textproto.Error
	if errors.As(err, &pe) {
		return ftperr.E(ftperr.ErrProtocol, op, path, err)
	}
	// остальное считаем сбоем сети, сокета или локального файла
	return ftperr.E(ftperr.ErrIOFailure, op, path, err)
}

// IsNotFound сообщает, что сервер ответил 550 (файл недоступен или отсутствует)
func IsNotFound(err error) bool {
	code, ok := ftperr.ReplyCode(err)
	return ok && code == ftp.StatusFileUnavailable
}

// RemoteSize выполняет SIZE. Любой ответ, кроме 213, считается ошибкой запроса размера.
func RemoteSize(conn Conn, path string) (int64, error) {
	size, err := conn.FileSize(path)
	if err != nil {
		if isContextErr(err) {
			return 0, Classify("size", path, err)
		}
		return 0, ftperr.E(ftperr.ErrSizeQueryFailed, "size", path, err)
	}
	if size < 0 {
		return 0, ftperr.E(ftperr.ErrSizeQueryFailed, "size", path, fmt.Errorf("negative size %d", size))
	}
	return size, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
