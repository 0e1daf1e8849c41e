package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tgfleet/internal/secrets"
)

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age identity for storage.secret_key_file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, public, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			if out == "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# public key: %s\n%s\n", public, secret)
				return nil
			}
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(f, "# public key: %s\n%s\n", public, secret); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (public key %s)\n", out, public)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the identity to this file (must not exist)")
	return cmd
}
