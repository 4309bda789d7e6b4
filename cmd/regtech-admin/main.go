package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
}

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: bootstrap.ConfigureLogger(&cfg),
		Config: cfg,
		Out:    os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		cmdCtx.Logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	list := []command{
		{"migrate", "Run Postgres schema migrations and seed the rule catalog", runMigrations},
		{"stats", "Print job counts by status", runStats},
		{"job", "Print a job as JSON", runJob},
		{"jobs", "List a subject's jobs, newest first", runJobs},
		{"cancel", "Cancel a pending, retrying or processing job", runCancel},
		{"group", "Print orchestration group progress", runGroup},
		{"risk", "Compute the current risk assessment of a subject", runRisk},
		{"reap", "Run one maintenance pass (lease expiry, group sweep, retention)", runReap},
		{"start-kyc", "Start identity verification and screening for a subject", runStartKYC},
		{"start-screening", "Start sanctions and PEP screening for a subject", runStartScreening},
		{"start-document", "Start OCR and verification of a document", runStartDocument},
		{"run-rules", "Evaluate compliance rules against subject facts", runRunRules},
		{"score-risk", "Enqueue a risk scoring snapshot for a subject", runScoreRisk},
		{"schedule-review", "Schedule a review reminder", runScheduleReview},
		{"schedule-expiry", "Schedule a document expiry check", runScheduleExpiry},
		{"list-alert-gates", "List alert dedupe keys held in Redis", runListAlertGates},
		{"clear-alert-gate", "Clear the alert dedupe key of a subject", runClearAlertGate},
	}
	out := make(map[string]command, len(list))
	for _, c := range list {
		out[c.name] = c
	}
	return out
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: regtech-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-18s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
