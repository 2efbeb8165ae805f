// Package ftperr содержит типизированные ошибки FTP-моста.
package ftperr

import (
	"errors"
	"net/textproto"
	"strings"
)

// Виды ошибок. Проверяются через errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrLoginFailed      = errors.New("login failed")
	ErrProtocol         = errors.New("protocol error")
	ErrIOFailure        = errors.New("io failure")
	ErrDuplicateTask    = errors.New("duplicate task")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrUnknownToken     = errors.New("unknown token")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrLocalFileExists  = errors.New("local file exists")
	ErrSizeQueryFailed  = errors.New("size query failed")
	ErrCancelled        = errors.New("cancelled")
	ErrUploadFailed     = errors.New("upload failed")
	ErrDownloadFailed   = errors.New("download failed")
)

var kinds = []error{
	ErrCancelled,
	ErrConfiguration,
	ErrLoginFailed,
	ErrDuplicateTask,
	ErrCapacityExceeded,
	ErrUnknownToken,
	ErrInvalidArgument,
	ErrLocalFileExists,
	ErrSizeQueryFailed,
	ErrUploadFailed,
	ErrDownloadFailed,
	ErrProtocol,
	ErrIOFailure,
}

// Error описывает сбой операции: что делали, над каким путём, вид и причину.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap отдаёт и вид, и исходную причину, чтобы работали errors.Is и errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E создаёт ошибку заданного вида. Если err уже несёт вид, он сохраняется.
func E(kind error, op, path string, err error) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != nil {
		return err
	}
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf возвращает вид ошибки или nil, если он не определён.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// ReplyCode достаёт код ответа FTP-сервера, если ошибка пришла от протокола.
func ReplyCode(err error) (int, bool) {
	var pe *textproto.Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// Code возвращает короткий машинный код вида ошибки для внешних клиентов.
func Code(err error) string {
	switch KindOf(err) {
	case ErrConfiguration:
		return "CONFIGURATION"
	case ErrLoginFailed:
		return "LOGIN_FAILED"
	case ErrProtocol:
		return "PROTOCOL"
	case ErrIOFailure:
		return "IO_FAILURE"
	case ErrDuplicateTask:
		return "DUPLICATE_TASK"
	case ErrCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case ErrUnknownToken:
		return "UNKNOWN_TOKEN"
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrLocalFileExists:
		return "LOCAL_FILE_EXISTS"
	case ErrSizeQueryFailed:
		return "SIZE_QUERY_FAILED"
	case ErrCancelled:
		return "CANCELLED"
	case ErrUploadFailed:
		return "UPLOAD_FAILED"
	case ErrDownloadFailed:
		return "DOWNLOAD_FAILED"
	default:
		return "UNKNOWN"
	}
}
