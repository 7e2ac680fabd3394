package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/chatswap/internal/config"
	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/out"
	"github.com/ggonzalez94/chatswap/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	serveFlags  config.ServeFlags
	settings    config.Settings
	lastCommand string
}

// Run executes args and returns the process exit code. SIGINT and SIGTERM
// cancel the command context.
func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.RunContext(ctx, args)
}

func (r *Runner) RunContext(ctx context.Context, args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.ExecuteContext(ctx))
	if err == nil {
		return 0
	}
	state.renderError(err)
	return apperr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Chat-driven Solana swaps signed in the user's own wallet",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s.lastCommand = trimRootPath(cmd.CommandPath())
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.LoadServe(s.flags, s.serveFlags)
			if err != nil {
				return apperr.Wrap(apperr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperr.Wrap(apperr.CodeUsage, "parse flags", err)
	})
	config.BindGlobal(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) logger() *logging.Logger {
	return logging.NewWithFormat(s.settings.LogFormat, s.settings.LogLevel)
}

func (s *runtimeState) outputMode() string {
	if s.settings.OutputMode == "" {
		return "json"
	}
	return s.settings.OutputMode
}

func (s *runtimeState) emitSuccess(data any, opts out.Options) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   s.lastCommand,
		},
	}
	opts.Mode = s.outputMode()
	return out.Render(s.runner.stdout, env, opts)
}

func (s *runtimeState) renderError(err error) {
	command := s.lastCommand
	if command == "" {
		command = version.CLIName
	}
	code := apperr.CodeOf(err)
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    int(code),
			Type:    apperr.TypeName(code),
			Message: err.Error(),
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   command,
		},
	}
	_ = out.Render(s.runner.stderr, env, out.Options{Mode: s.outputMode()})
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return apperr.Wrap(apperr.CodeUsage, "invalid command input", err)
	}
	return apperr.Wrap(apperr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
