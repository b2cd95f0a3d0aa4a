package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/engine"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BatchReport summarises one daily batch pass.
type BatchReport struct {
	Date           time.Time     `json:"date"`
	Processed      int           `json:"processed"`
	Updated        int           `json:"updated"`
	NewlyOverdue   int           `json:"newly_overdue"` // Installments moved to OVERDUE
	NewlyDefaulted int           `json:"newly_defaulted"`
	NewlyCompleted int           `json:"newly_completed"`
	Failed         int           `json:"failed"`
	Duration       time.Duration `json:"duration"`
}

type contractOutcome struct {
	updated   bool
	overdue   int
	defaulted bool
	completed bool
	notes     []notify.Notification
}

func (r *BatchReport) add(o contractOutcome) {
	r.Processed++
	if o.updated {
		r.Updated++
	}
	r.NewlyOverdue += o.overdue
	if o.defaulted {
		r.NewlyDefaulted++
	}
	if o.completed {
		r.NewlyCompleted++
	}
}

// RunDailyBatch marks installments overdue and recomputes every ACTIVE
// contract as of today. Running it again for the same date changes nothing.
// A contract that fails is logged and counted; only failing to list the
// contracts fails the batch.
func (l *Ledger) RunDailyBatch(today time.Time) (BatchReport, error) {
	if !l.batchMu.TryLock() {
		return BatchReport{}, ErrBatchInProgress
	}
	defer l.batchMu.Unlock()

	start := time.Now()
	today = engine.DateOf(today)
	report := BatchReport{Date: today}
	log := l.logger.WithField("date", today.Format("2006-01-02"))

	contracts, err := l.storage.GetAllActiveContracts()
	if err != nil {
		return report, fmt.Errorf("failed to list active contracts: %w", err)
	}
	log.WithField("contracts", len(contracts)).Info("Daily batch started")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(l.workers)
	for _, c := range contracts {
		id := c.ID
		g.Go(func() error {
			outcome, err := l.processContract(id, today)
			l.notify(outcome.notes...)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				log.WithField("contract_id", id).Errorf("Daily batch failed for contract: %v", err)
				return nil
			}
			report.add(outcome)
			return nil
		})
	}
	// Workers never return an error; failures are counted above.
	_ = g.Wait()

	report.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"processed":       report.Processed,
		"updated":         report.Updated,
		"newly_overdue":   report.NewlyOverdue,
		"newly_defaulted": report.NewlyDefaulted,
		"newly_completed": report.NewlyCompleted,
		"failed":          report.Failed,
		"duration":        report.Duration.String(),
	}).Info("Daily batch complete")
	return report, nil
}

// processContract re-evaluates one contract under its lock. Notifications
// are returned in the outcome for delivery after the lock is released.
func (l *Ledger) processContract(id uuid.UUID, today time.Time) (contractOutcome, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	var outcome contractOutcome

	// The listing may be stale by now.
	contract, err := l.GetContract(id)
	if err != nil {
		return outcome, err
	}
	if contract.Status.IsTerminal() {
		return outcome, nil
	}

	entries, err := l.storage.GetSchedule(id)
	if err != nil {
		return outcome, fmt.Errorf("failed to load schedule: %w", err)
	}

	var changed []*models.ScheduleEntry
	for _, e := range entries {
		if engine.MarkOverdue(e, today) {
			changed = append(changed, e)
		}
	}

	ev := l.lifecycle.Recompute(entries, contract.TotalPaid, today, contract.Status)
	unchanged := len(changed) == 0 &&
		ev.NextStatus == contract.Status &&
		ev.Outstanding.Equal(contract.OutstandingBalance) &&
		ev.DaysOverdue == contract.DaysOverdue &&
		contract.LastEvaluatedOn != nil && contract.LastEvaluatedOn.Equal(today)
	if unchanged {
		return outcome, nil
	}

	statusChanged := l.applyEvaluation(contract, ev, l.now())
	contract.LastEvaluatedOn = &today
	if err := l.storage.SaveContractState(contract, changed, nil); err != nil {
		return outcome, fmt.Errorf("failed to save contract state: %w", err)
	}

	outcome.updated = true
	outcome.overdue = len(changed)
	outcome.defaulted = statusChanged && contract.Status == models.ContractStatusDefault
	outcome.completed = statusChanged && contract.Status == models.ContractStatusCompleted

	for _, e := range changed {
		outcome.notes = append(outcome.notes, notify.Notification{Kind: notify.KindInstallmentOverdue, Contract: contract, Entry: e})
	}
	switch {
	case outcome.defaulted:
		l.contractLogger(contract).WithField("days_overdue", contract.DaysOverdue).Warn("Contract defaulted")
		outcome.notes = append(outcome.notes, notify.Notification{Kind: notify.KindContractDefaulted, Contract: contract})
	case outcome.completed:
		l.contractLogger(contract).Info("Contract completed")
		outcome.notes = append(outcome.notes, notify.Notification{Kind: notify.KindContractCompleted, Contract: contract})
	}
	return outcome, nil
}
