package ledger

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanledger/pkg/engine"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// AgingRow totals the contracts that fall into one aging bucket.
type AgingRow struct {
	Bucket      engine.AgingBucket `json:"bucket"`
	Contracts   int                `json:"contracts"`
	Outstanding decimal.Decimal    `json:"outstanding"`
}

// AgingReport groups the open book by days overdue. Defaulted contracts are
// reported on their own row rather than in a bucket.
type AgingReport struct {
	AsOf        time.Time       `json:"as_of"`
	Buckets     []AgingRow      `json:"buckets"`
	Defaulted   AgingRow        `json:"defaulted"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// AgingReport ages every ACTIVE and DEFAULT contract as of a date. Overdue
// days are taken from the schedule, so the report is accurate even before
// that day's batch has run.
func (l *Ledger) AgingReport(asOf time.Time) (AgingReport, error) {
	asOf = engine.DateOf(asOf)
	report := AgingReport{
		AsOf:        asOf,
		Defaulted:   AgingRow{Bucket: engine.AgingOver90, Outstanding: decimal.Zero},
		Outstanding: decimal.Zero,
	}
	rows := make(map[engine.AgingBucket]*AgingRow)
	for _, b := range engine.AllAgingBuckets() {
		report.Buckets = append(report.Buckets, AgingRow{Bucket: b, Outstanding: decimal.Zero})
	}
	for i := range report.Buckets {
		rows[report.Buckets[i].Bucket] = &report.Buckets[i]
	}

	contracts, err := l.storage.GetAllContracts()
	if err != nil {
		return report, fmt.Errorf("failed to list contracts: %w", err)
	}
	for _, c := range contracts {
		switch c.Status {
		case models.ContractStatusCompleted:
			continue
		case models.ContractStatusDefault:
			report.Defaulted.Contracts++
			report.Defaulted.Outstanding = report.Defaulted.Outstanding.Add(c.OutstandingBalance)
		case models.ContractStatusActive:
			entries, err := l.storage.GetSchedule(c.ID)
			if err != nil {
				return report, fmt.Errorf("failed to load schedule for contract %s: %w", c.ID, err)
			}
			row := rows[engine.BucketFor(engine.DaysOverdue(entries, asOf))]
			row.Contracts++
			row.Outstanding = row.Outstanding.Add(c.OutstandingBalance)
		}
		report.Outstanding = report.Outstanding.Add(c.OutstandingBalance)
	}
	return report, nil
}
