package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mumchip/reattrib/internal/clierr"
	"github.com/mumchip/reattrib/internal/git"
	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
	"github.com/mumchip/reattrib/internal/identity"
	"github.com/mumchip/reattrib/internal/report"
	"github.com/mumchip/reattrib/internal/watch"
)

type scanOptions struct {
	format   string
	color    string
	diff     bool
	watch    bool
	exitCode bool
}

func newScanCmd(g *globals) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [revs...]",
		Short: "List commits attributed to a bot",
		Long:  "scan walks every commit reachable from the given revisions (default: all branches and tags) and lists those whose author or committer is a Lovable bot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "text", "output format: text, json or yaml")
	f.StringVar(&opts.color, "color", "auto", "diff colours: never, auto, light or dark")
	f.BoolVar(&opts.diff, "diff", false, "show the identity change each finding would get")
	f.BoolVar(&opts.watch, "watch", false, "rescan whenever the repository changes")
	f.BoolVar(&opts.exitCode, "exit-code", false, "exit with status 3 when bot commits are found")
	return cmd
}

func runScan(cmd *cobra.Command, g *globals, opts *scanOptions, revs []string) error {
	format, err := report.ParseFormat(pick(cmd, "format", opts.format, g.cfg.Scan.Format))
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "", err)
	}
	color, err := report.ParseColorMode(pick(cmd, "color", opts.color, g.cfg.Scan.Color))
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "", err)
	}
	out := cmd.OutOrStdout()
	if color == report.ColorAuto && !isTerminal(out) {
		color = report.ColorNever
	}
	if len(revs) == 0 {
		revs = g.cfg.Refs
	}
	svc, err := g.open()
	if err != nil {
		return err
	}
	ro := report.Options{Diff: opts.diff, Color: color}

	rep, err := scanOnce(cmd.Context(), svc, revs, out, format, ro)
	if err != nil {
		return err
	}
	if opts.watch {
		return watchScan(cmd.Context(), g, svc, revs, out, format, ro)
	}
	if opts.exitCode && rep.Len() > 0 {
		return clierr.Newf(clierr.CodeFindings, "%d bot-attributed commits found", rep.Len())
	}
	return nil
}

func scanOnce(ctx context.Context, svc *git.Service, revs []string, out io.Writer, format report.Format, opts report.Options) (*report.Report, error) {
	rep := &report.Report{Repo: svc.RepoPath()}
	n, err := svc.Scan(ctx, revs, func(c *gitbackend.Commit, m identity.Match) error {
		if m != 0 {
			rep.Add(report.NewFinding(c, m))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	rep.Scanned = n
	if err := report.Write(out, rep, format, opts); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return rep, nil
}

func watchScan(ctx context.Context, g *globals, svc *git.Service, revs []string, out io.Writer, format report.Format, opts report.Options) error {
	var mu sync.Mutex
	rescan := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		slog.Debug("repository changed, rescanning")
		if _, err := scanOnce(ctx, svc, revs, out, format, opts); err != nil {
			slog.Error("rescan failed", slog.Any("error", err))
		}
	}
	slog.Info("watching for changes", slog.String("repo", svc.RepoPath()))
	return watch.Watch(ctx, svc.RepoPath(), g.cfg.Watch.Debounce.Std(), rescan)
}
