package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mumchip/reattrib/internal/fastexport"
	"github.com/mumchip/reattrib/internal/identity"
)

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter",
		Short: "Rewrite a fast-export stream from stdin to stdout",
		Long: "filter reads a git fast-export stream on stdin and writes it to stdout with bot identities replaced:\n\n" +
			"  git fast-export --all --signed-tags=strip | reattrib filter | git fast-import --force",
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := fastexport.Filter(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), identity.Rewrite)
			if err != nil {
				return err
			}
			slog.Info("filter done", slog.Int("commits", stats.Commits), slog.Int("rewritten", stats.Rewritten))
			return nil
		},
	}
}
