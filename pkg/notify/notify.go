// Package notify delivers ledger events to customers and staff.
package notify

import (
	"fmt"
	"strings"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindInstallmentOverdue Kind = "INSTALLMENT_OVERDUE"
	KindContractDefaulted  Kind = "CONTRACT_DEFAULTED"
	KindContractCompleted  Kind = "CONTRACT_COMPLETED"
	KindPaymentVerified    Kind = "PAYMENT_VERIFIED"
	KindPaymentRejected    Kind = "PAYMENT_REJECTED"
)

// Notification is one event worth telling the customer about. Entry and
// Payment are set when the event concerns them.
type Notification struct {
	Kind     Kind
	Contract *models.Contract
	Entry    *models.ScheduleEntry
	Payment  *models.Payment
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(n Notification) error
}

// LogNotifier writes notifications to the log only. It is used when no
// delivery channel is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(n Notification) error {
	l.logger.WithFields(fields(n)).Info(Subject(n))
	return nil
}

func fields(n Notification) logrus.Fields {
	f := logrus.Fields{"kind": n.Kind}
	if n.Contract != nil {
		f["contract_id"] = n.Contract.ID
		f["customer_key"] = n.Contract.CustomerKey
	}
	if n.Entry != nil {
		f["installment"] = n.Entry.InstallmentNumber
	}
	if n.Payment != nil {
		f["payment_id"] = n.Payment.ID
	}
	return f
}

// Subject returns a one-line summary of the notification.
func Subject(n Notification) string {
	switch n.Kind {
	case KindInstallmentOverdue:
		return "Loan installment overdue"
	case KindContractDefaulted:
		return "Loan contract in default"
	case KindContractCompleted:
		return "Loan fully repaid"
	case KindPaymentVerified:
		return "Payment received"
	case KindPaymentRejected:
		return "Payment could not be verified"
	default:
		return string(n.Kind)
	}
}

// Body renders the plain-text message for the customer.
func Body(n Notification) string {
	var b strings.Builder
	b.WriteString("Dear customer,\n\n")
	c := n.Contract
	switch n.Kind {
	case KindInstallmentOverdue:
		fmt.Fprintf(&b, "Installment %d of %s due on %s is overdue.\n", n.Entry.InstallmentNumber,
			n.Entry.TotalAmount.StringFixed(2), n.Entry.DueDate.Format("2006-01-02"))
		fmt.Fprintf(&b, "Outstanding balance: %s\n", c.OutstandingBalance.StringFixed(2))
	case KindContractDefaulted:
		fmt.Fprintf(&b, "Contract %s is now in default after %d days overdue.\n", c.ID, c.DaysOverdue)
		fmt.Fprintf(&b, "Outstanding balance: %s\n", c.OutstandingBalance.StringFixed(2))
		b.WriteString("Please contact us to arrange settlement.\n")
	case KindContractCompleted:
		fmt.Fprintf(&b, "Contract %s has been fully repaid (%s). Thank you.\n", c.ID, c.TotalPaid.StringFixed(2))
	case KindPaymentVerified:
		fmt.Fprintf(&b, "We received your payment of %s dated %s.\n", n.Payment.Amount.StringFixed(2),
			n.Payment.PaymentDate.Format("2006-01-02"))
		fmt.Fprintf(&b, "Outstanding balance: %s\n", c.OutstandingBalance.StringFixed(2))
	case KindPaymentRejected:
		fmt.Fprintf(&b, "Your payment of %s could not be verified", n.Payment.Amount.StringFixed(2))
		if n.Payment.RejectReason != "" {
			fmt.Fprintf(&b, ": %s", n.Payment.RejectReason)
		}
		b.WriteString(".\n")
	}
	b.WriteString("\nBest regards,\nLoan Service")
	return b.String()
}
