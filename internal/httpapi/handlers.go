package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"ftp_bridge/internal/events"
	"ftp_bridge/internal/ftpclient"
	"ftp_bridge/internal/ftperr"
	"ftp_bridge/models"
)

// NewSetupHandler фабрика настройки подключения
func NewSetupHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SetupRequest
		if !decodePost(w, r, &req) {
			return
		}
		if err := client.Configure(req.Host, req.Port, req.Username, req.Password); err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Message: "FTP client configured"})
	}
}

// NewListHandler фабрика получения содержимого каталога
func NewListHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PathRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Path == "" {
			badRequest(w, "path is required")
			return
		}
		entries, err := client.List(r.Context(), req.Path)
		if err != nil {
			sendFailure(w, log, err)
			return
		}
		out := make([]models.Entry, 0, len(entries))
		for _, e := range entries {
			out = append(out, models.Entry{
				Name:      e.Name,
				Size:      e.Size,
				Type:      string(e.Type),
				Timestamp: client.FormatTimestamp(e.Timestamp),
			})
		}
		sendJSON(w, models.Response{Success: true, Entries: out})
	}
}

// NewRemoveHandler фабрика удаления. Путь с "/" на конце удаляется рекурсивно.
func NewRemoveHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PathRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Path == "" {
			badRequest(w, "path is required")
			return
		}
		if err := client.Remove(r.Context(), req.Path); err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Message: "removed " + req.Path})
	}
}

// NewMakeDirHandler фабрика создания каталога
func NewMakeDirHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PathRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Path == "" {
			badRequest(w, "path is required")
			return
		}
		if err := client.MakeDirectory(r.Context(), req.Path); err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Message: "created " + req.Path})
	}
}

// NewExistsHandler фабрика проверки наличия файла
func NewExistsHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ExistsRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Directory == "" || req.Name == "" {
			badRequest(w, "directory and name are required")
			return
		}
		ok, err := client.CheckFileExists(r.Context(), req.Directory, req.Name)
		if err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Exists: &ok})
	}
}

// NewMoveHandler фабрика переименования
func NewMoveHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.MoveRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Source == "" || req.Destination == "" {
			badRequest(w, "source and destination are required")
			return
		}
		if err := client.MoveOrRename(r.Context(), req.Source, req.Destination); err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Message: fmt.Sprintf("moved %s to %s", req.Source, req.Destination)})
	}
}

// NewSizeHandler фабрика подсчёта размера: каталога, если путь оканчивается на "/", иначе файла
func NewSizeHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PathRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Path == "" {
			badRequest(w, "path is required")
			return
		}
		var (
			size int64
			err  error
		)
		if req.Path[len(req.Path)-1] == '/' {
			size, err = client.FolderSize(r.Context(), req.Path)
		} else {
			size, err = client.RemoteSize(r.Context(), req.Path)
		}
		if err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Size: &size})
	}
}

// NewUploadHandler фабрика запуска загрузки. Отвечает сразу, ход передачи доступен через /ftp/progress.
func NewUploadHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TransferRequest
		if !decodePost(w, r, &req) {
			return
		}
		if err := validateTransfer(&req); err != nil {
			badRequest(w, err.Error())
			return
		}
		task, err := client.UploadFile(req.LocalPath, req.RemotePath)
		if err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSONStatus(w, http.StatusAccepted, models.Response{Success: true, Token: task.Token, Message: "upload started"})
	}
}

// NewDownloadHandler фабрика запуска скачивания
func NewDownloadHandler(client *ftpclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TransferRequest
		if !decodePost(w, r, &req) {
			return
		}
		if err := validateTransfer(&req); err != nil {
			badRequest(w, err.Error())
			return
		}
		task, err := client.DownloadFile(req.LocalPath, req.RemotePath)
		if err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSONStatus(w, http.StatusAccepted, models.Response{Success: true, Token: task.Token, Message: "download started"})
	}
}

// NewCancelHandler фабрика отмены передачи. Отвечает после удаления частичного файла.
func NewCancelHandler(cancel func(ctx context.Context, token string) error, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TokenRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.Token == "" {
			badRequest(w, "token is required")
			return
		}
		if err := cancel(r.Context(), req.Token); err != nil {
			sendFailure(w, log, err)
			return
		}
		sendJSON(w, models.Response{Success: true, Token: req.Token, Message: "transfer cancelled"})
	}
}

// NewProgressHandler фабрика опроса состояния передачи: GET /ftp/progress?token=...
func NewProgressHandler(client *ftpclient.Client, store *events.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "Only GET method is allowed", "")
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			badRequest(w, "token is required")
			return
		}

		if st, ok := client.Status(token); ok {
			sendJSON(w, models.ProgressResponse{
				Success:    true,
				Token:      token,
				Percentage: st.Percentage,
				State:      st.State.String(),
			})
			return
		}
		if store != nil {
			if snap, ok := store.Get(token); ok {
				resp := models.ProgressResponse{
					Success:    true,
					Token:      token,
					Percentage: snap.Percentage,
					State:      string(snap.State),
				}
				if snap.Err != nil {
					resp.Error = snap.Err.Error()
				}
				sendJSON(w, resp)
				return
			}
		}
		err := ftperr.E(ftperr.ErrUnknownToken, "progress", token, nil)
		sendError(w, http.StatusNotFound, err.Error(), ftperr.Code(err))
	}
}

// validateTransfer валидирует запрос передачи
func validateTransfer(req *models.TransferRequest) error {
	if req.LocalPath == "" {
		return errors.New("local path is required")
	}
	if req.RemotePath == "" {
		return errors.New("remote path is required")
	}
	return nil
}
