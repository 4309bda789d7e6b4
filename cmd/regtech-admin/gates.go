package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sa32552/regtech-engine/internal/core"
)

const gateScanCount = 100

func runListAlertGates(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("list-alert-gates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		subjects, err := scanAlertGates(ctx, client)
		if err != nil {
			return err
		}
		return printAlertGates(ctx, cmdCtx.Out, client, subjects)
	})
}

func runClearAlertGate(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("clear-alert-gate")
	subject := fs.String("subject", "", "Subject (client) id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		n, err := client.Del(ctx, core.DefaultAlertGatePrefix+*subject).Result()
		if err != nil {
			return fmt.Errorf("delete alert gate: %w", err)
		}
		if n == 0 {
			return writef(cmdCtx.Out, "no alert gate held for %s\n", *subject)
		}
		return writef(cmdCtx.Out, "cleared alert gate for %s\n", *subject)
	})
}

func withRedis(cmdCtx *commandContext, fn func(ctx context.Context, client redis.UniversalClient) error) error {
	client, err := maybeConnectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()
	return fn(cmdCtx.Ctx, client)
}

// scanAlertGates returns the subjects currently holding an alert gate, sorted.
func scanAlertGates(ctx context.Context, client redis.UniversalClient) ([]string, error) {
	var (
		cursor   uint64
		subjects []string
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, core.DefaultAlertGatePrefix+"*", gateScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan alert gates: %w", err)
		}
		for _, k := range keys {
			subjects = append(subjects, strings.TrimPrefix(k, core.DefaultAlertGatePrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(subjects)
	return subjects, nil
}

func printAlertGates(ctx context.Context, w io.Writer, client redis.UniversalClient, subjects []string) error {
	if len(subjects) == 0 {
		return writef(w, "no alert gates held\n")
	}
	for _, s := range subjects {
		ttl, err := client.TTL(ctx, core.DefaultAlertGatePrefix+s).Result()
		if err != nil {
			return fmt.Errorf("ttl %s: %w", s, err)
		}
		if err := writef(w, "%s\t%s\n", s, ttl); err != nil {
			return err
		}
	}
	return nil
}
