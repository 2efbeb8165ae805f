// Package cli реализует командную строку FTP-моста: HTTP-сервер и разовые операции.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ftp_bridge/config"
	"ftp_bridge/internal/events"
	"ftp_bridge/internal/ftpclient"
	"ftp_bridge/internal/logging"
	"ftp_bridge/internal/session"
)

// app хранит общее состояние команд одного запуска
type app struct {
	env config.Environment
	log zerolog.Logger

	// флаги, перекрывающие окружение
	host, user, password string
	port                 int
	addr                 string
	logLevel             string
	disableEPSV          bool
	timeout              time.Duration

	// dial подменяется в тестах
	dial   session.DialFunc
	logOut io.Writer
}

// NewRootCmd создаёт корневую команду
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{logOut: os.Stderr})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ftp-bridge",
		Short: "FTP client bridge: HTTP service and command-line transfers",
		Long: `FTP client bridge.

Runs an HTTP service exposing FTP operations to local applications,
or performs a single operation from the command line.

Connection settings come from FTP_* environment variables and can be
overridden with flags.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.host, "host", "", "FTP server host (overrides FTP_HOST)")
	flags.IntVar(&a.port, "port", 0, "FTP server port (overrides FTP_PORT)")
	flags.StringVarP(&a.user, "user", "u", "", "FTP username (overrides FTP_USER)")
	flags.StringVarP(&a.password, "password", "p", "", "FTP password (overrides FTP_PASSWORD)")
	flags.BoolVar(&a.disableEPSV, "disable-epsv", false, "Use PASV instead of EPSV")
	flags.DurationVar(&a.timeout, "timeout", 0, "Connect, idle and response timeout (overrides FTP_*_TIMEOUT)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newServeCmd(a),
		newListCmd(a),
		newRemoveCmd(a),
		newMakeDirCmd(a),
		newMoveCmd(a),
		newExistsCmd(a),
		newFolderSizeCmd(a),
		newSizeCmd(a),
		newPutCmd(a),
		newGetCmd(a),
	)
	return rootCmd
}

// init читает окружение и применяет флаги
func (a *app) init(cmd *cobra.Command, _ []string) error {
	env, err := config.MustLoad()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		env.FTP_HOST = a.host
	}
	if flags.Changed("port") {
		env.FTP_PORT = a.port
	}
	if flags.Changed("user") {
		env.FTP_USER = a.user
	}
	if flags.Changed("password") {
		env.FTP_PASSWORD = a.password
	}
	if flags.Changed("disable-epsv") {
		env.FTP_DISABLE_EPSV = a.disableEPSV
	}
	if flags.Changed("timeout") {
		env.FTP_CONNECT_TIMEOUT = a.timeout
		env.FTP_IDLE_TIMEOUT = a.timeout
		env.FTP_RESPONSE_TIMEOUT = a.timeout
	}
	if flags.Changed("log-level") {
		env.LOG_LEVEL = a.logLevel
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		env.BRIDGE_ADDR = a.addr
	}
	if err := env.Validate(); err != nil {
		return err
	}

	log, err := logging.New(env.LOG_LEVEL, env.LOG_FORMAT, a.logOut)
	if err != nil {
		return err
	}
	a.env = env
	a.log = log
	return nil
}

// newClient создаёт клиент с настройками из окружения
func (a *app) newClient(sink events.Sink) (*ftpclient.Client, error) {
	zone, err := a.env.Zone()
	if err != nil {
		return nil, err
	}
	return ftpclient.New(ftpclient.Config{
		Session: session.Options{
			ConnectTimeout:  a.env.FTP_CONNECT_TIMEOUT,
			IdleTimeout:     a.env.FTP_IDLE_TIMEOUT,
			ResponseTimeout: a.env.FTP_RESPONSE_TIMEOUT,
			DisableEPSV:     a.env.FTP_DISABLE_EPSV,
			Dial:            a.dial,
		},
		MaxUploads:   a.env.FTP_MAX_UPLOADS,
		MaxDownloads: a.env.FTP_MAX_DOWNLOADS,
		Zone:         zone,
	}, sink, a.log), nil
}

// connect создаёт клиент и настраивает его; для разовых команд данные входа обязательны
func (a *app) connect(sink events.Sink) (*ftpclient.Client, error) {
	client, err := a.newClient(sink)
	if err != nil {
		return nil, err
	}
	if err := client.Configure(a.env.FTP_HOST, a.env.FTP_PORT, a.env.FTP_USER, a.env.FTP_PASSWORD); err != nil {
		return nil, fmt.Errorf("FTP connection settings: %w", err)
	}
	return client, nil
}

// signalContext отменяется по Ctrl-C или SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
