package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mumchip/reattrib/internal/buildinfo"
	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reattrib %s\n", buildinfo.Read())
			if v, err := gitbackend.GitVersion(); err == nil {
				fmt.Fprintf(out, "%s (minimum %s)\n", v, gitbackend.MinGitVersion())
			}
			return nil
		},
	}
}
