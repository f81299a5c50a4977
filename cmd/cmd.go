// Package cmd implements the reattrib command line.
package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mumchip/reattrib/internal/clierr"
	"github.com/mumchip/reattrib/internal/config"
	"github.com/mumchip/reattrib/internal/git"
	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
)

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCmd()
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}

// globals holds the persistent flags and the configuration they select.
type globals struct {
	repo       string
	configPath string
	backend    string
	verbose    bool

	cfg config.Config
}

func NewRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "reattrib",
		Short:         "Re-attribute commits made by the Lovable bot accounts",
		Long:          "reattrib finds commits authored or committed by the Lovable bot accounts and rewrites their identity to a fixed human identity.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "", err)
	})

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.repo, "repo", ".", "path to the repository")
	flags.StringVar(&g.configPath, "config", "", "config file (default <repo>/"+config.FileName+")")
	flags.StringVar(&g.backend, "backend", "", "repository access: cli or native (default from config, else cli)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logging")

	cmd.AddCommand(newScanCmd(g))
	cmd.AddCommand(newFilterCmd())
	cmd.AddCommand(newRewriteCmd(g))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (g *globals) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	path, explicit := g.configPath, g.configPath != ""
	if !explicit {
		path = config.PathFor(g.repo)
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "", err)
	}
	g.cfg = cfg
	if g.backend == "" {
		g.backend = cfg.Backend
	}
	slog.Debug("configuration loaded", slog.String("path", path), slog.String("backend", g.backend))
	return nil
}

func (g *globals) open() (*git.Service, error) {
	kind, err := gitbackend.ParseKind(g.backend)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "", err)
	}
	return git.Open(g.repo, kind)
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return clierr.Wrap(clierr.CodeUsage, "", err)
		}
		return nil
	}
}

// pick returns flag when it was set on the command line and fallback
// otherwise.
func pick[T any](cmd *cobra.Command, name string, flag, fallback T) T {
	if cmd.Flags().Changed(name) {
		return flag
	}
	return fallback
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && terminalFd(f.Fd())
}
