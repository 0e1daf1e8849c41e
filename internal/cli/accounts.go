package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tgfleet/internal/storage"
)

func newAccountsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect enrolled accounts",
	}
	cmd.AddCommand(newAccountsListCmd(opts))
	return cmd
}

func newAccountsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list <operator-id>",
		Short: "List an operator's accounts in store order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOperatorID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), opts, func(ctx context.Context, st storage.Store) error {
				recs, err := st.ListAccounts(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					_, _ = fmt.Fprintf(out, "operator %d has no accounts\n", id)
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "SESSION\tAPP ID\tPHONE\tADDED")
				for _, r := range recs {
					_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.SessionRef, r.AppID, maskPhone(r.Phone), r.CreatedAt.Format(time.DateOnly))
				}
				return w.Flush()
			})
		},
	}
}

// maskPhone keeps the country prefix and the last two digits.
func maskPhone(p string) string {
	if len(p) <= 5 {
		return p
	}
	masked := []byte(p)
	for i := 3; i < len(masked)-2; i++ {
		masked[i] = '*'
	}
	return string(masked)
}
