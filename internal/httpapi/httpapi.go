// Package httpapi открывает операции FTP-клиента по HTTP с JSON-телами.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ftp_bridge/internal/events"
	"ftp_bridge/internal/ftpclient"
	"ftp_bridge/internal/ftperr"
	"ftp_bridge/models"
)

// NewMux регистрирует все обработчики моста
func NewMux(client *ftpclient.Client, store *events.Store, log zerolog.Logger) *http.ServeMux {
	log = log.With().Str("component", "http").Logger()
	mux := http.NewServeMux()
	mux.HandleFunc("/ftp/setup", corsMiddleware(NewSetupHandler(client, log)))
	mux.HandleFunc("/ftp/list", corsMiddleware(NewListHandler(client, log)))
	mux.HandleFunc("/ftp/remove", corsMiddleware(NewRemoveHandler(client, log)))
	mux.HandleFunc("/ftp/mkdir", corsMiddleware(NewMakeDirHandler(client, log)))
	mux.HandleFunc("/ftp/exists", corsMiddleware(NewExistsHandler(client, log)))
	mux.HandleFunc("/ftp/move", corsMiddleware(NewMoveHandler(client, log)))
	mux.HandleFunc("/ftp/size", corsMiddleware(NewSizeHandler(client, log)))
	mux.HandleFunc("/ftp/upload", corsMiddleware(NewUploadHandler(client, log)))
	mux.HandleFunc("/ftp/upload/cancel", corsMiddleware(NewCancelHandler(client.CancelUpload, log)))
	mux.HandleFunc("/ftp/download", corsMiddleware(NewDownloadHandler(client, log)))
	mux.HandleFunc("/ftp/download/cancel", corsMiddleware(NewCancelHandler(client.CancelDownload, log)))
	mux.HandleFunc("/ftp/progress", corsMiddleware(NewProgressHandler(client, store)))
	return mux
}

// Serve слушает addr до отмены ctx, затем останавливает сервер и отменяет передачи
func Serve(ctx context.Context, addr string, handler http.Handler, client *ftpclient.Client, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting FTP bridge")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down FTP bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("cancelling transfers")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// corsMiddleware добавляет CORS заголовки
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// StatusFor сопоставляет вид ошибки HTTP-статусу
func StatusFor(err error) int {
	switch ftperr.KindOf(err) {
	case ftperr.ErrInvalidArgument, ftperr.ErrConfiguration:
		return http.StatusBadRequest
	case ftperr.ErrLoginFailed:
		return http.StatusUnauthorized
	case ftperr.ErrUnknownToken:
		return http.StatusNotFound
	case ftperr.ErrDuplicateTask, ftperr.ErrLocalFileExists, ftperr.ErrCancelled:
		return http.StatusConflict
	case ftperr.ErrCapacityExceeded:
		return http.StatusTooManyRequests
	case ftperr.ErrProtocol, ftperr.ErrIOFailure, ftperr.ErrSizeQueryFailed,
		ftperr.ErrUploadFailed, ftperr.ErrDownloadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

func sendFailure(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Msg("request rejected")
	}
	sendError(w, status, err.Error(), ftperr.Code(err))
}

func sendJSON(w http.ResponseWriter, v any) {
	sendJSONStatus(w, http.StatusOK, v)
}

func sendJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodePost проверяет метод и разбирает тело; при ошибке ответ уже отправлен
func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Only POST method is allowed", "")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid JSON format: "+err.Error(), ftperr.Code(ftperr.ErrInvalidArgument))
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, message string) {
	sendError(w, http.StatusBadRequest, message, ftperr.Code(ftperr.ErrInvalidArgument))
}
