package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sa32552/regtech-engine/internal/bootstrap"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	"github.com/sa32552/regtech-engine/internal/service"
)

const dateLayout = "2006-01-02"

type kycFlags struct {
	subject     string
	name        string
	first       string
	last        string
	dob         string
	nationality string
	docType     string
	docNumber   string
}

func parseKYCFlags(args []string) (*kycFlags, error) {
	fs := newFlagSet("start-kyc")
	opts := &kycFlags{}
	fs.StringVar(&opts.subject, "subject", "", "Subject (client) id")
	fs.StringVar(&opts.name, "name", "", "Full name screened against watchlists")
	fs.StringVar(&opts.first, "first", "", "First name")
	fs.StringVar(&opts.last, "last", "", "Last name")
	fs.StringVar(&opts.dob, "dob", "", "Date of birth (YYYY-MM-DD)")
	fs.StringVar(&opts.nationality, "nationality", "", "Nationality")
	fs.StringVar(&opts.docType, "doc-type", "", "Identity document type")
	fs.StringVar(&opts.docNumber, "doc-number", "", "Identity document number")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := requireFlag("subject", opts.subject); err != nil {
		return nil, err
	}
	if opts.name == "" {
		opts.name = strings.TrimSpace(opts.first + " " + opts.last)
	}
	if err := requireFlag("name", opts.name); err != nil {
		return nil, err
	}
	return opts, nil
}

func (f *kycFlags) request() service.KYCRequest {
	return service.KYCRequest{
		Identity: processors.IdentityInput{
			ClientID:       f.subject,
			FirstName:      f.first,
			LastName:       f.last,
			FullName:       f.name,
			DateOfBirth:    f.dob,
			Nationality:    f.nationality,
			DocumentType:   f.docType,
			DocumentNumber: f.docNumber,
		},
		Screening: processors.ScreeningInput{
			ClientID:    f.subject,
			Name:        f.name,
			DateOfBirth: f.dob,
			Nationality: f.nationality,
		},
	}
}

func runStartKYC(cmdCtx *commandContext, args []string) error {
	opts, err := parseKYCFlags(args)
	if err != nil {
		return err
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.StartKYC(ctx, opts.subject, opts.request())
	})
}

func runStartScreening(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("start-screening")
	subject := fs.String("subject", "", "Subject (client) id")
	name := fs.String("name", "", "Name screened against watchlists")
	dob := fs.String("dob", "", "Date of birth (YYYY-MM-DD)")
	nationality := fs.String("nationality", "", "Nationality")
	lists := fs.String("watchlists", "", "Comma separated watchlists (default OFAC,UN,EU,PEP)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	if err := requireFlag("name", *name); err != nil {
		return err
	}
	in := processors.ScreeningInput{
		ClientID:    *subject,
		Name:        *name,
		DateOfBirth: *dob,
		Nationality: *nationality,
		Watchlists:  splitCSV(*lists),
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.StartScreening(ctx, *subject, in)
	})
}

func runStartDocument(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("start-document")
	subject := fs.String("subject", "", "Subject (client) id")
	document := fs.String("document", "", "Document id")
	docType := fs.String("type", "", "Document type")
	url := fs.String("url", "", "Document file URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("document", *document); err != nil {
		return err
	}
	in := processors.DocumentInput{
		ClientID:     *subject,
		DocumentID:   *document,
		DocumentType: *docType,
		FileURL:      *url,
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.StartDocument(ctx, *subject, in)
	})
}

func parseRulesFlags(args []string) (string, processors.RulesInput, error) {
	fs := newFlagSet("run-rules")
	subject := fs.String("subject", "", "Subject (client) id")
	ruleIDs := fs.String("rules", "", "Comma separated rule ids (default: the whole catalog)")
	facts := fs.String("facts", "", "Facts as a JSON object")
	if err := fs.Parse(args); err != nil {
		return "", processors.RulesInput{}, err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return "", processors.RulesInput{}, err
	}
	in := processors.RulesInput{ClientID: *subject, RuleIDs: splitCSV(*ruleIDs)}
	if strings.TrimSpace(*facts) != "" {
		if err := json.Unmarshal([]byte(*facts), &in.Facts); err != nil {
			return "", processors.RulesInput{}, fmt.Errorf("--facts: %w", err)
		}
	}
	return *subject, in, nil
}

func runRunRules(cmdCtx *commandContext, args []string) error {
	subject, in, err := parseRulesFlags(args)
	if err != nil {
		return err
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.RunRules(ctx, subject, in)
	})
}

func runScoreRisk(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("score-risk")
	subject := fs.String("subject", "", "Subject (client) id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.ScoreRisk(ctx, *subject)
	})
}

func runScheduleReview(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("schedule-review")
	subject := fs.String("subject", "", "Subject (client) id")
	date := fs.String("date", "", "Review date (YYYY-MM-DD or RFC3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	at, err := parseDate("date", *date)
	if err != nil {
		return err
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.ScheduleReviewReminder(ctx, *subject, at)
	})
}

func runScheduleExpiry(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("schedule-expiry")
	subject := fs.String("subject", "", "Subject (client) id")
	document := fs.String("document", "", "Document id")
	expiry := fs.String("expiry", "", "Expiry date (YYYY-MM-DD or RFC3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("document", *document); err != nil {
		return err
	}
	at, err := parseDate("expiry", *expiry)
	if err != nil {
		return err
	}
	return trigger(cmdCtx, func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error) {
		return o.ScheduleDocumentExpiryCheck(ctx, *subject, *document, at)
	})
}

func trigger(
	cmdCtx *commandContext,
	fn func(ctx context.Context, o *service.Orchestrator) (*model.TriggerResult, error),
) error {
	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		res, err := fn(ctx, rt.Orchestrator)
		if err != nil {
			return err
		}
		return printJSON(cmdCtx.Out, res)
	})
}

func parseDate(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD or RFC3339, got %q", name, value)
	}
	return t.UTC(), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
