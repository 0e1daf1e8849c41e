package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tgfleet/internal/app"
	"tgfleet/internal/storage"
	logx "tgfleet/pkg/logx"
)

func newAdminCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage bot admins",
		Long:  "Grant or revoke admin rights directly in the store. Stop the bot first when using the file driver.",
	}
	cmd.AddCommand(
		newAdminSetCmd(opts, "grant", "Grant admin rights to an operator id", true),
		newAdminSetCmd(opts, "revoke", "Revoke admin rights from an operator id", false),
	)
	return cmd
}

func newAdminSetCmd(opts *options, use, short string, admin bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <operator-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOperatorID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), opts, func(ctx context.Context, st storage.Store) error {
				if admin {
					// Registering here lets the first admin exist before they ever message the bot.
					if err := st.EnsureOperator(ctx, storage.Operator{ID: id, FirstSeen: time.Now()}); err != nil {
						return err
					}
				}
				if err := st.SetAdmin(ctx, id, admin); err != nil {
					return fmt.Errorf("%s %d: %w", use, id, err)
				}
				_ = st.AppendAudit(ctx, storage.AuditEntry{At: time.Now(), Action: "cli-admin-" + use, Target: strconv.FormatInt(id, 10)})
				state := "an admin"
				if !admin {
					state = "no longer an admin"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "operator %d is %s\n", id, state)
				return nil
			})
		},
	}
}

func parseOperatorID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid operator id %q", s)
	}
	return id, nil
}

func withStore(ctx context.Context, opts *options, fn func(ctx context.Context, st storage.Store) error) error {
	st, err := app.OpenStore(ctx, opts.configPath, logx.NewConsole("WARN"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(ctx, st)
}
