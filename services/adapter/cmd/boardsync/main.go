package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	brandingassets "boardsync/infra/branding"
	"boardsync/services/daemon"
	"boardsync/services/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "boardsync",
		Short:         "Keep Homarr dashboard boards in sync with the installed apps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", "/etc/homarr-container-adapter/adapter.env", "Optional file with KEY=value settings")
	flags.StringVar(&opts.brandingFile, "branding", "", "Branding file (overrides BRANDING_FILE)")
	flags.StringVar(&opts.stateFile, "state", "", "State file (overrides STATE_FILE)")
	flags.StringVar(&opts.registryDir, "registry-dir", "", "App descriptor directory (overrides REGISTRY_DIR)")
	flags.StringVar(&opts.boardName, "board", "", "Only sync this board (overrides BOARD_NAME)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newSetupCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDaemonCommand(opts))
	cmd.AddCommand(newResetCommand(opts))
	cmd.AddCommand(newRemovedCommand(opts))
	cmd.AddCommand(newBrandingExampleCommand())
	return cmd
}

func newBrandingExampleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "branding-example",
		Short: "Print a sample branding file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(brandingassets.Example)
			return err
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconcile cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Reconciler()
			if err != nil {
				return err
			}
			report, err := rec.Run(cmd.Context())
			if err != nil {
				return err
			}
			if report.Failed > 0 {
				a.log.Warn().Int("failed", report.Failed).Msg("some entries could not be synced")
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newSetupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Complete onboarding, authenticate and create the default board",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			setup, err := a.Setup()
			if err != nil {
				return err
			}
			st, err := a.LoadState()
			if err != nil {
				return err
			}
			_, setupErr := setup.Ensure(cmd.Context(), st)
			if err := a.store.Save(st); err != nil {
				return errors.Join(setupErr, fmt.Errorf("save state: %w", err))
			}
			if setupErr != nil {
				return setupErr
			}
			a.log.Info().Msg("setup complete")
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.LoadState()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), daemon.Summarize(st))
		},
	}
}

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync continuously on a timer, container events and refresh requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.Daemon()
			if err != nil {
				return err
			}
			a.log.Info().Dur("interval", a.cfg.SyncInterval).Msg("daemon starting")
			return d.Run(cmd.Context())
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the state file so the next run starts over",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("reset discards the cached API key and removal records; pass --force to confirm")
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Reset(); err != nil {
				return err
			}
			a.log.Info().Str("path", a.store.Path()).Msg("state reset")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm the reset")
	return cmd
}

func newRemovedCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "removed",
		Short: "Inspect and edit the apps the user removed from boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRemovedListCommand(opts))
	cmd.AddCommand(newRemovedAddCommand(opts))
	cmd.AddCommand(newRemovedRestoreCommand(opts))
	cmd.AddCommand(newRemovedClearCommand(opts))
	return cmd
}

func newRemovedListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List removed apps per board id",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.LoadState()
			if err != nil {
				return err
			}

			removed := daemon.Summarize(st).Removed
			boards := make([]string, 0, len(removed))
			for id := range removed {
				boards = append(boards, id)
			}
			sort.Strings(boards)

			out := cmd.OutOrStdout()
			for _, id := range boards {
				for _, u := range removed[id] {
					fmt.Fprintf(out, "%s\t%s\n", id, u)
				}
			}
			return nil
		},
	}
}

func newRemovedAddCommand(opts *rootOptions) *cobra.Command {
	var board string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Stop placing an app on a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editState(cmd.Context(), opts, func(st *state.State) {
				st.MarkRemoved(board, strings.TrimSpace(args[0]))
			})
		},
	}

	cmd.Flags().StringVar(&board, "board", state.AllBoards, "Board id, or * for every board")
	return cmd
}

func newRemovedRestoreCommand(opts *rootOptions) *cobra.Command {
	var board string

	cmd := &cobra.Command{
		Use:   "restore <url>",
		Short: "Allow an app to be placed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editState(cmd.Context(), opts, func(st *state.State) {
				st.Unremove(board, strings.TrimSpace(args[0]))
			})
		},
	}

	cmd.Flags().StringVar(&board, "board", "", "Board id; empty restores the app on every board")
	return cmd
}

func newRemovedClearCommand(opts *rootOptions) *cobra.Command {
	var board string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget removals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return editState(cmd.Context(), opts, func(st *state.State) {
				st.ClearRemoved(board)
			})
		},
	}

	cmd.Flags().StringVar(&board, "board", "", "Board id; empty clears every board")
	return cmd
}

func editState(ctx context.Context, opts *rootOptions, edit func(*state.State)) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.LoadState()
	if err != nil {
		return err
	}
	edit(st)
	return a.store.Save(st)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
