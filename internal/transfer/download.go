package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jlaffaye/ftp"

	"ftp_bridge/internal/ftperr"
	"ftp_bridge/internal/session"
)

// Download скачивает job.Remote в локальный файл job.Local.
// Существующий локальный файл не перезаписывается. При отмене или сбое
// частичный локальный файл удаляется, сервер не затрагивается.
func (e *Engine) Download(ctx context.Context, job Job) error {
	log := e.log.With().Str("token", job.Token).Logger()

	if job.Remote == "" || strings.HasSuffix(job.Remote, "/") {
		job.markCleaned()
		return ftperr.E(ftperr.ErrInvalidArgument, "download", job.Remote, fmt.Errorf("remote path is not a file"))
	}
	if _, err := os.Lstat(job.Local); err == nil {
		job.markCleaned()
		return ftperr.E(ftperr.ErrLocalFileExists, "download", job.Local, nil)
	}

	var (
		f       *os.File
		created bool
	)
	log.Info().Str("remote", job.Remote).Str("local", job.Local).Msg("start downloading file")

	err := e.driver.WithSession(ctx, job.Creds, "download", func(conn session.Conn) error {
		if err := conn.Type(ftp.TransferTypeBinary); err != nil {
			return session.Classify("type", job.Remote, err)
		}

		total, err := session.RemoteSize(conn, job.Remote)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(job.Local), 0o755); err != nil {
			return ftperr.E(ftperr.ErrIOFailure, "download", job.Local, err)
		}
		f, err = os.OpenFile(job.Local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return ftperr.E(ftperr.ErrLocalFileExists, "download", job.Local, nil)
			}
			return ftperr.E(ftperr.ErrIOFailure, "download", job.Local, err)
		}
		created = true

		resp, err := conn.Retr(job.Remote)
		if err != nil {
			return session.Classify("retr", job.Remote, err)
		}

		t := newTracker(job.Token, total, e.sink)
		t.start()
		w := bufio.NewWriter(f)
		copyErr := copyChunks(w, &meter{ctx: ctx, r: resp, chunk: e.chunk, t: t, op: "download", path: job.Remote}, e.chunk)
		if ctx.Err() != nil {
			_ = resp.Close()
			return ftperr.E(ftperr.ErrCancelled, "download", job.Remote, ctx.Err())
		}
		if copyErr != nil {
			_ = resp.Close()
			return ftperr.E(ftperr.ErrIOFailure, "download", job.Remote, copyErr)
		}
		if err := w.Flush(); err != nil {
			_ = resp.Close()
			return ftperr.E(ftperr.ErrIOFailure, "download", job.Local, err)
		}
		if err := resp.Close(); err != nil {
			return ftperr.E(ftperr.ErrDownloadFailed, "download", job.Remote, err)
		}
		cerr := f.Close()
		f = nil
		if cerr != nil {
			return ftperr.E(ftperr.ErrIOFailure, "download", job.Local, cerr)
		}

		t.finish()
		return nil
	})

	if f != nil {
		_ = f.Close()
	}

	dirty := false
	if err != nil && created {
		if rerr := RemoveLocal(job.Local); rerr != nil {
			log.Warn().Err(rerr).Str("local", job.Local).Msg("failed to remove partial local file")
			dirty = true
		}
	}
	if !dirty {
		job.markCleaned()
	}

	if err != nil {
		log.Debug().Err(err).Msg("download finished with error")
		return err
	}
	log.Info().Str("local", job.Local).Msg("finish downloading")
	return nil
}

// copyChunks копирует src в dst блоками по chunk байт
func copyChunks(dst io.Writer, src io.Reader, chunk int) error {
	buf := make([]byte, chunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
