package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"marketintel/internal/adapters/ai"
	"marketintel/internal/bootstrap"
	"marketintel/internal/domain/run"
	"marketintel/internal/service"
	"marketintel/internal/workflow"
	"marketintel/pkg/logger"
)

// cliOptions are the one-shot flags. When any is set the process runs a
// single command instead of serving HTTP.
type cliOptions struct {
	subject  string
	industry string
	budget   float64
	model    string
	resume   string
	fromSeq  int
	history  bool
}

func (o cliOptions) oneShot() bool {
	return o.subject != "" || o.resume != "" || o.history
}

// runOnce executes a single CLI command against the built container and
// returns the process exit code. Interrupts suspend the run at its next
// checkpoint rather than killing it mid-step.
func runOnce(c *bootstrap.Container, opts cliOptions) int {
	defer c.Shutdown()

	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.history {
		return printHistory(ctx, os.Stdout, c.Service, log)
	}

	var (
		res *workflow.Result
		err error
	)
	if opts.resume != "" {
		log.Infow("Resuming run", "run_id", opts.resume, "from_sequence", opts.fromSeq)
		res, err = c.Service.ResumeWait(ctx, opts.resume, opts.fromSeq)
	} else {
		log.Infow("Starting analysis", "subject", opts.subject)
		res, err = c.Service.Run(ctx, service.Request{
			Subject: opts.subject,
			Domain:  opts.industry,
			Budget:  opts.budget,
			Model:   opts.model,
		})
	}
	if err != nil {
		log.Errorw("Run did not start", "error", err)
		return 1
	}

	printResult(os.Stdout, res)

	switch {
	case !res.Finished():
		fmt.Fprintf(os.Stdout, "\nRun suspended. Continue with: intel -resume %s\n", res.RunID)
		return 2
	case res.Status != run.StatusCompleted:
		return 1
	default:
		return 0
	}
}

func printResult(w io.Writer, res *workflow.Result) {
	rule := strings.Repeat("=", 72)

	fmt.Fprintf(w, "\n%s\n", rule)
	fmt.Fprintf(w, "Run %s  [%s]\n", res.RunID, res.Status)
	fmt.Fprintf(w, "%s\n", rule)

	if res.Report != nil {
		fmt.Fprintf(w, "\n%s\n", res.Report.Document)
	}

	fmt.Fprintf(w, "\nCost: $%s | Tokens: %s | Revisions: %d | Duration: %s\n",
		res.Cost.StringFixed(4),
		humanize.Comma(res.Tokens),
		res.Revisions,
		res.Duration.Round(time.Second),
	)

	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, msg := range res.Errors {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
}

func printModels(w io.Writer) {
	fmt.Fprintf(w, "%-42s  %-8s  %-10s  %s\n", "MODEL", "FAMILY", "CONTEXT", "$/MTOK IN/OUT")
	for _, m := range ai.KnownModels() {
		pricing := "free"
		if !m.Free() {
			pricing = fmt.Sprintf("%.2f / %.2f", m.InputCostPerMTok, m.OutputCostPerMTok)
		}
		fmt.Fprintf(w, "%-42s  %-8s  %-10s  %s\n",
			m.ID, m.Family, humanize.Comma(int64(m.MaxTokens)), pricing)
	}
}

func printHistory(ctx context.Context, w io.Writer, svc *service.Service, log *logger.Logger) int {
	summaries, err := svc.History(ctx, 0, 0)
	if err != nil {
		log.Errorw("Failed to list runs", "error", err)
		return 1
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No stored runs.")
		return 0
	}

	fmt.Fprintf(w, "%-36s  %-15s  %-10s  %-12s  %s\n", "RUN", "STATUS", "COST", "UPDATED", "SUBJECT")
	for _, sum := range summaries {
		fmt.Fprintf(w, "%-36s  %-15s  $%-9s  %-12s  %s\n",
			sum.RunID,
			sum.Status,
			sum.Cost.StringFixed(4),
			humanize.Time(sum.UpdatedAt),
			sum.Subject,
		)
	}
	return 0
}
