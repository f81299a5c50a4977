package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mumchip/reattrib/internal/clierr"
	"github.com/mumchip/reattrib/internal/git"
	"github.com/mumchip/reattrib/internal/identity"
)

type rewriteOptions struct {
	engine       string
	backupPrefix string
	dryRun       bool
	force        bool
}

func newRewriteCmd(g *globals) *cobra.Command {
	opts := &rewriteOptions{}
	cmd := &cobra.Command{
		Use:   "rewrite [refs...]",
		Short: "Rewrite history so bot commits carry the replacement identity",
		Long: "rewrite re-attributes every bot commit reachable from the given refs (default: all local branches and tags) " +
			"and moves the refs to the rewritten history. The previous value of each moved ref is kept under the backup prefix.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(cmd, g, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.engine, "engine", "native", "rewrite engine: native or fast-export")
	f.StringVar(&opts.backupPrefix, "backup-prefix", git.DefaultBackupPrefix, "namespace for backups of rewritten refs")
	f.BoolVarP(&opts.dryRun, "dry-run", "n", false, "report what would change without writing anything")
	f.BoolVarP(&opts.force, "force", "f", false, "rewrite despite local changes or existing backups")
	return cmd
}

func runRewrite(cmd *cobra.Command, g *globals, opts *rewriteOptions, refs []string) error {
	engine, err := git.ParseEngine(pick(cmd, "engine", opts.engine, g.cfg.Engine))
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "", err)
	}
	if len(refs) == 0 {
		refs = g.cfg.Refs
	}
	svc, err := g.open()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	res, err := svc.Rewrite(cmd.Context(), git.RewriteOptions{
		Engine:       engine,
		Refs:         refs,
		BackupPrefix: pick(cmd, "backup-prefix", opts.backupPrefix, g.cfg.BackupPrefix),
		DryRun:       opts.dryRun,
		Force:        opts.force,
		Callback:     identity.Rewrite,
		OnRewrite: func(hash string, before, _ identity.Commit) {
			fmt.Fprintf(out, "rewrite %s %s <%s>\n", shortHash(hash), before.AuthorName, before.AuthorEmail)
		},
	})
	if err != nil {
		if errors.Is(err, git.ErrDirtyWorktree) || errors.Is(err, git.ErrBackupExists) {
			return clierr.Wrap(clierr.CodeRefused, "rewrite refused (use --force to override)", err)
		}
		if errors.Is(err, git.ErrNoRefs) || errors.Is(err, git.ErrUnknownRef) {
			return clierr.Wrap(clierr.CodeUsage, "", err)
		}
		return err
	}
	return printRewriteResult(out, res)
}

func printRewriteResult(w io.Writer, res git.RewriteResult) error {
	for _, u := range res.Refs {
		fmt.Fprintf(w, "%s %s -> %s\n", u.Name, shortHash(u.Old), shortHash(u.New))
	}
	verb := "rewrote"
	if res.DryRun {
		verb = "would rewrite"
	}
	_, err := fmt.Fprintf(w, "%s %d of %d commits, %d refs (%s engine)\n", verb, res.Rewritten, res.Commits, len(res.Refs), res.Engine)
	return err
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
