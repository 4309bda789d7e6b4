package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/bootstrap"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

const defaultMigrationTimeout = 5 * time.Minute

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("migrate")
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeout <= 0 {
		return errors.New("--timeout must be greater than zero")
	}
	if cmdCtx.Config.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate only applies to the postgres store, not %q", cmdCtx.Config.Store.Driver)
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg := cmdCtx.Config
	cfg.Postgres.RunMigrationsOnStart = true
	cmdCtx.Logger.Info("running database migrations")
	storage, err := bootstrap.OpenStorage(ctx, &cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	if err := storage.Close(); err != nil {
		cmdCtx.Logger.Warn("db close failed", "error", err)
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runStats(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("stats")
	asJSON := fs.Bool("json", false, "Print raw JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		stats, err := rt.Jobs.Stats(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(cmdCtx.Out, stats)
		}
		return printStats(cmdCtx.Out, stats)
	})
}

func printStats(w io.Writer, s *model.JobStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value int
	}{
		{"pending", s.Pending},
		{"processing", s.Processing},
		{"retrying", s.Retrying},
		{"completed", s.Completed},
		{"failed", s.Failed},
		{"cancelled", s.Cancelled},
		{"total", s.Total},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%d\n", r.label, r.value); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(tw, "success rate\t%.1f%%\n", s.SuccessRate); err != nil {
		return err
	}
	return tw.Flush()
}

func runJob(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("job")
	id := fs.String("id", "", "Job id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		job, err := rt.Jobs.GetJob(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(cmdCtx.Out, job)
	})
}

func runJobs(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("jobs")
	subject := fs.String("subject", "", "Subject (client) id")
	status := fs.String("status", "", "Comma-separated statuses to include (default all)")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	statuses, err := parseStatuses(*status)
	if err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		jobs, err := rt.Jobs.ListJobs(ctx, *subject, statuses...)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(cmdCtx.Out, jobs)
		}
		return printJobs(cmdCtx.Out, jobs)
	})
}

func parseStatuses(raw string) ([]model.JobStatus, error) {
	var out []model.JobStatus
	for _, v := range splitCSV(raw) {
		var st model.JobStatus
		if err := st.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("--status: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

func printJobs(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writef(w, "No jobs\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "JOB\tTYPE\tSTATUS\tATTEMPT\tCREATED\tGROUP"); err != nil {
		return err
	}
	for _, j := range jobs {
		group := j.Group()
		if group == "" {
			group = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.Type, j.Status, j.Attempt, j.MaxAttempts, j.CreatedAt.UTC().Format(time.RFC3339), group); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runCancel(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("cancel")
	id := fs.String("id", "", "Job id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		job, err := rt.Jobs.CancelJob(ctx, *id)
		if err != nil {
			return err
		}
		return writef(cmdCtx.Out, "job %s is %s\n", job.ID, job.Status)
	})
}

func runGroup(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("group")
	id := fs.String("id", "", "Group id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		status, err := rt.Orchestrator.GetGroupStatus(ctx, *id)
		if err != nil {
			return err
		}
		return printGroup(cmdCtx.Out, status)
	})
}

func printGroup(w io.Writer, g *model.GroupStatus) error {
	state := "running"
	switch {
	case g.Complete && g.Degraded:
		state = "complete (degraded)"
	case g.Complete:
		state = "complete"
	}
	subject := "-"
	if g.SubjectID != nil {
		subject = *g.SubjectID
	}
	if err := writef(w, "Group %s (%s) subject=%s: %s, %d pending, %d terminal\n",
		g.GroupID, g.Trigger, subject, state, g.Pending, g.Terminal); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "JOB\tTYPE\tSTATUS"); err != nil {
		return err
	}
	for _, m := range g.Members {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", m.JobID, m.Type, m.Status); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runRisk(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("risk")
	subject := fs.String("subject", "", "Subject (client) id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		a, err := rt.Orchestrator.ComputeRiskAssessment(ctx, *subject)
		if err != nil {
			return err
		}
		return printJSON(cmdCtx.Out, a)
	})
}

func runReap(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("reap")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		if err := rt.Reaper.RunOnce(ctx); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "maintenance pass completed\n")
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
