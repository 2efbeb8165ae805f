package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ftp_bridge/internal/events"
	"ftp_bridge/internal/httpapi"
)

// newServeCmd создаёт команду 'serve'
func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge",
		Long: `Run the HTTP bridge on BRIDGE_ADDR (default :2992).

If FTP_HOST and FTP_USER are set the client is configured at startup,
otherwise clients call POST /ftp/setup first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := events.NewStore(0)
			client, err := a.newClient(events.Multi{store, events.LogSink{Log: a.log}})
			if err != nil {
				return err
			}
			if a.env.HasCredentials() {
				if err := client.Configure(a.env.FTP_HOST, a.env.FTP_PORT, a.env.FTP_USER, a.env.FTP_PASSWORD); err != nil {
					return fmt.Errorf("FTP connection settings: %w", err)
				}
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return httpapi.Serve(ctx, a.env.BRIDGE_ADDR, httpapi.NewMux(client, store, a.log), client, a.log)
		},
	}
	cmd.Flags().StringVar(&a.addr, "addr", "", "Listen address (overrides BRIDGE_ADDR)")
	return cmd
}

// newListCmd создаёт команду 'ls'
func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			entries, err := client.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Type, e.Size, client.FormatTimestamp(e.Timestamp), e.Name)
			}
			return tw.Flush()
		},
	}
}

// newRemoveCmd создаёт команду 'rm'
func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a remote file, or a directory tree when the path ends with /",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			if err := client.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.log.Info().Str("path", args[0]).Msg("removed")
			return nil
		},
	}
}

// newMakeDirCmd создаёт команду 'mkdir'
func newMakeDirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			return client.MakeDirectory(cmd.Context(), args[0])
		},
	}
}

// newMoveCmd создаёт команду 'mv'
func newMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move or rename a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			return client.MoveOrRename(cmd.Context(), args[0], args[1])
		},
	}
}

// newExistsCmd создаёт команду 'exists'
func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <directory> <name>",
		Short: "Check whether a directory contains an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			ok, err := client.CheckFileExists(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

// newFolderSizeCmd создаёт команду 'du'
func newFolderSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "du <path>",
		Short: "Print the total size in bytes of all files under a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			total, err := client.FolderSize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), total)
			return nil
		},
	}
}

// newSizeCmd создаёт команду 'size'
func newSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size <path>",
		Short: "Print the size in bytes of a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(nil)
			if err != nil {
				return err
			}
			size, err := client.RemoteSize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), size)
			return nil
		},
	}
}
