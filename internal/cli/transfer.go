package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ftp_bridge/internal/ftpclient"
	"ftp_bridge/internal/progress"
	"ftp_bridge/internal/registry"
)

// newPutCmd создаёт команду 'put'
func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload a local file",
		Long: `Upload a local file to the FTP server.

Ctrl-C cancels the upload and removes the partial remote file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(progress.New(os.Stderr, a.log))
			if err != nil {
				return err
			}
			task, err := client.UploadFile(args[0], args[1])
			if err != nil {
				return err
			}
			return a.await(cmd, client, task, client.CancelUpload)
		},
	}
}

// newGetCmd создаёт команду 'get'
func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote> <local>",
		Short: "Download a remote file",
		Long: `Download a remote file. If <local> is a directory the remote file name is kept.
An existing local file is never overwritten.

Ctrl-C cancels the download and removes the partial local file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(progress.New(os.Stderr, a.log))
			if err != nil {
				return err
			}
			task, err := client.DownloadFile(args[1], args[0])
			if err != nil {
				return err
			}
			return a.await(cmd, client, task, client.CancelDownload)
		},
	}
}

// await ждёт передачу; по сигналу отменяет её и ждёт удаления частичного файла
func (a *app) await(cmd *cobra.Command, client *ftpclient.Client, task *registry.Task,
	cancel func(ctx context.Context, token string) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	select {
	case <-task.Done():
	case <-ctx.Done():
		a.log.Info().Str("token", task.Token).Msg("interrupted, cancelling transfer")
		cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer ccancel()
		if err := cancel(cctx, task.Token); err != nil {
			a.log.Warn().Err(err).Msg("cancel transfer")
		}
		<-task.Done()
	}
	_ = client.Shutdown(context.Background())
	return task.Err()
}
