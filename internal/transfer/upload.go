package transfer

import (
	"context"
	"fmt"
	"os"

	"github.com/jlaffaye/ftp"

	"ftp_bridge/internal/ftperr"
	"ftp_bridge/internal/session"
)

// Upload загружает локальный файл job.Local в job.Remote.
// При отмене частичный удалённый файл удаляется в новой сессии до возврата ErrCancelled.
// При сбое он удаляется в той же сессии, а если она уже непригодна, то в новой.
func (e *Engine) Upload(ctx context.Context, job Job) error {
	log := e.log.With().Str("token", job.Token).Logger()

	f, err := os.Open(job.Local)
	if err != nil {
		job.markCleaned()
		return ftperr.E(ftperr.ErrInvalidArgument, "upload", job.Local, fmt.Errorf("opening local file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		job.markCleaned()
		return ftperr.E(ftperr.ErrIOFailure, "upload", job.Local, err)
	}
	if info.IsDir() {
		job.markCleaned()
		return ftperr.E(ftperr.ErrInvalidArgument, "upload", job.Local, fmt.Errorf("local path is a directory"))
	}

	t := newTracker(job.Token, info.Size(), e.sink)
	dirty := false
	log.Info().Str("remote", job.Remote).Int64("bytes", info.Size()).Msg("start uploading file")

	err = e.driver.WithSession(ctx, job.Creds, "upload", func(conn session.Conn) error {
		if err := conn.Type(ftp.TransferTypeBinary); err != nil {
			return session.Classify("type", job.Remote, err)
		}

		t.start()
		dirty = true
		err := conn.Stor(job.Remote, &meter{ctx: ctx, r: f, chunk: e.chunk, t: t, op: "upload", path: job.Remote})
		if ctx.Err() != nil {
			return ftperr.E(ftperr.ErrCancelled, "upload", job.Remote, ctx.Err())
		}
		if err != nil {
			// передача не подтверждена сервером: удаляем то, что успело записаться
			if derr := conn.Delete(job.Remote); derr != nil && !session.IsNotFound(derr) {
				log.Debug().Err(derr).Msg("removing partial remote file in a new session")
			} else {
				dirty = false
			}
			return ftperr.E(ftperr.ErrUploadFailed, "upload", job.Remote, err)
		}

		dirty = false
		t.finish()
		return nil
	})

	// отмена или сбой, после которого удалить файл в той же сессии не удалось
	if dirty && err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cleanupTimeout)
		defer cancel()
		if cerr := e.RemoveRemote(cctx, job.Creds, job.Remote); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to remove partial remote file")
		} else {
			dirty = false
		}
	}
	if !dirty {
		job.markCleaned()
	}

	if err != nil {
		log.Debug().Err(err).Msg("upload finished with error")
		return err
	}
	log.Info().Str("remote", job.Remote).Msg("finish uploading")
	return nil
}
