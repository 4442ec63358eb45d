package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus describes where a queued sale is in its sync lifecycle.
type TransactionStatus string

const (
	// StatusPending is the initial state of every queued sale.
	StatusPending TransactionStatus = "pending"
	// StatusSynced means the remote endpoint acknowledged the sale. Terminal.
	StatusSynced TransactionStatus = "synced"
	// StatusFailed means the last sync attempt failed. Retryable until the
	// attempt count reaches the retry ceiling, after which the record is
	// dead-lettered and waits for operator action.
	StatusFailed TransactionStatus = "failed"
	// StatusCleared marks a dead-lettered sale the operator explicitly gave
	// up on. Kept distinct from synced so the audit trail shows the loss.
	StatusCleared TransactionStatus = "cleared"
)

// PaymentMethod is the closed set of ways a sale can be paid.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentMobileMoney  PaymentMethod = "mobile_money"
)

// ErrInvalidSale is returned when a sale draft violates a domain invariant.
var ErrInvalidSale = errors.New("invalid sale")

// localIDPrefix distinguishes locally generated ids from server-issued ones.
const localIDPrefix = "local_"

// NewLocalID generates a unique transaction id recognizable as local.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated on this terminal.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// SaleItem is one line of a sale.
type SaleItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// SaleDraft is the sale as captured at the register, before it gets a
// local id and enters the queue.
type SaleDraft struct {
	Items         []SaleItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	StaffID       int64           `json:"staff_id"`
	StaffName     string          `json:"staff_name"`
}

// Validate checks the draft's monetary and structural invariants.
func (d *SaleDraft) Validate() error {
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: sale has no items", ErrInvalidSale)
	}
	for i, item := range d.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity", ErrInvalidSale, i)
		}
		expected := item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
		if !item.LineTotal.Equal(expected) {
			return fmt.Errorf("%w: item %d line total %s != %s", ErrInvalidSale, i, item.LineTotal, expected)
		}
	}
	if d.Discount.IsNegative() {
		return fmt.Errorf("%w: negative discount", ErrInvalidSale)
	}
	if d.Discount.GreaterThan(d.Subtotal) {
		return fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrInvalidSale, d.Discount, d.Subtotal)
	}
	if !d.Total.Equal(d.Subtotal.Sub(d.Discount)) {
		return fmt.Errorf("%w: total %s != subtotal %s - discount %s", ErrInvalidSale, d.Total, d.Subtotal, d.Discount)
	}
	switch d.PaymentMethod {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentMobileMoney:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidSale, d.PaymentMethod)
	}
	if d.StaffID == 0 || d.StaffName == "" {
		return fmt.Errorf("%w: missing staff identification", ErrInvalidSale)
	}
	return nil
}

// QueuedTransaction is a captured sale waiting for (or done with) sync.
// Status, SyncAttempts and LastError are owned by the sync path; the id and
// sale payload never change after creation.
type QueuedTransaction struct {
	ID string `json:"id"`
	SaleDraft
	QueuedAt     time.Time         `json:"queued_at"`
	Status       TransactionStatus `json:"status"`
	SyncAttempts int               `json:"sync_attempts"`
	LastError    string            `json:"last_error,omitempty"`
}

// newQueuedTransaction stamps a draft with a fresh local id and the initial
// lifecycle state.
func newQueuedTransaction(draft SaleDraft, now time.Time) *QueuedTransaction {
	return &QueuedTransaction{
		ID:           NewLocalID(),
		SaleDraft:    draft,
		QueuedAt:     now,
		Status:       StatusPending,
		SyncAttempts: 0,
	}
}
