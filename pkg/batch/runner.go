package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/types"
	"github.com/memtensor/manageusers/pkg/users"
)

// Reconciler is the single-identity operation the runner drives
type Reconciler interface {
	Reconcile(ctx context.Context, id users.Identity, desired users.DesiredState) (*users.Outcome, error)
}

// Result is the outcome of one entry
type Result struct {
	Source   string         `json:"source"`
	Username string         `json:"username"`
	Outcome  *users.Outcome `json:"outcome,omitempty"`
	Err      error          `json:"-"`
	Error    string         `json:"error,omitempty"`
}

// Report collects the results of a batch run
type Report struct {
	Results []Result `json:"results"`
}

// Failed returns the number of entries that did not reconcile
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Counts returns the number of successful entries per action
func (r *Report) Counts() map[types.ReconcileAction]int {
	counts := make(map[types.ReconcileAction]int)
	for _, res := range r.Results {
		if res.Err == nil && res.Outcome != nil {
			counts[res.Outcome.Action]++
		}
	}
	return counts
}

// Errors returns the failures as an ErrorList, or nil when there were none
func (r *Report) Errors() error {
	list := errors.NewErrorList()
	for _, res := range r.Results {
		if res.Err == nil {
			continue
		}
		appErr := errors.GetAppError(res.Err)
		if appErr == nil {
			appErr = errors.NewInternalErrorWithCause("reconcile failed", res.Err)
		}
		list.Add(appErr)
	}
	return list.ToError()
}

// Summary renders a one-line overview such as "3 records: 1 created, 2 unchanged, 0 failed"
func (r *Report) Summary() string {
	counts := r.Counts()
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, string(action))
	}
	sort.Strings(actions)

	parts := make([]string, 0, len(actions)+1)
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%d %s", counts[types.ReconcileAction(a)], a))
	}
	parts = append(parts, fmt.Sprintf("%d failed", r.Failed()))
	return fmt.Sprintf("%d records: %s", len(r.Results), strings.Join(parts, ", "))
}

// Runner reconciles entries one after another
type Runner struct {
	reconciler Reconciler
	logger     interfaces.Logger
	metrics    interfaces.Metrics
}

// NewRunner creates a runner
func NewRunner(reconciler Reconciler, logger interfaces.Logger, m interfaces.Metrics) *Runner {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Runner{reconciler: reconciler, logger: logger, metrics: m}
}

// Run reconciles every entry in its own transaction. A failing entry is
// recorded and the run continues; a cancelled context fails the rest.
func (r *Runner) Run(ctx context.Context, entries []Entry) *Report {
	report := &Report{Results: make([]Result, 0, len(entries))}

	for _, entry := range entries {
		res := Result{Source: entry.Source, Username: entry.Record.Username}

		switch {
		case entry.Err != nil:
			res.Err = entry.Err
		case ctx.Err() != nil:
			res.Err = errors.NewInternalErrorWithCause("batch cancelled", ctx.Err())
		default:
			res.Outcome, res.Err = r.reconciler.Reconcile(ctx, entry.Record.Identity(), entry.Record.Desired())
		}

		if res.Err != nil {
			res.Error = res.Err.Error()
			r.logger.Error("batch record failed", res.Err, map[string]interface{}{
				"source":   res.Source,
				"username": res.Username,
			})
		}
		report.Results = append(report.Results, res)
	}

	r.metrics.Gauge(metrics.BatchRecords, float64(len(report.Results)-report.Failed()), map[string]string{"status": "ok"})
	r.metrics.Gauge(metrics.BatchRecords, float64(report.Failed()), map[string]string{"status": "failed"})
	r.logger.Info("batch finished", map[string]interface{}{
		"records": len(report.Results),
		"failed":  report.Failed(),
	})
	return report
}
