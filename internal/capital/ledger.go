package capital

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// Ledger tracks how much of the account's capital is committed to resting
// orders. Every order placement must pass through ReserveMargin before it is
// counted as live, making the ledger the single admission gate for capital.
type Ledger struct {
	mu        sync.Mutex
	total     decimal.Decimal
	allocated decimal.Decimal
	margins   map[string]decimal.Decimal
}

func NewLedger(total decimal.Decimal) *Ledger {
	return &Ledger{
		total:   total,
		margins: make(map[string]decimal.Decimal),
	}
}

// ReserveMargin commits margin for the given order id. Reserving the same id
// again is a no-op, so retried placements never double count. It returns
// core.ErrInsufficientCapital when the reservation would exceed the total.
func (l *Ledger) ReserveMargin(orderID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.margins[orderID]; ok {
		return nil
	}
	if l.allocated.Add(amount).Cmp(l.total) > 0 {
		return core.ErrInsufficientCapital
	}
	l.margins[orderID] = amount
	l.allocated = l.allocated.Add(amount)
	return nil
}

// ReleaseMargin returns the margin reserved for the order id to the free
// pool. Unknown ids are ignored.
func (l *Ledger) ReleaseMargin(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.margins[orderID]
	if !ok {
		return
	}
	delete(l.margins, orderID)
	l.allocated = l.allocated.Sub(amount)
	if l.allocated.Cmp(decimal.Zero) < 0 {
		l.allocated = decimal.Zero
	}
}

// RefreshTotalCapital resyncs the ledger against the exchange's reported
// available balance. The new total is available plus whatever is already
// allocated, so live reservations stay accounted for.
func (l *Ledger) RefreshTotalCapital(exchangeAvailable decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = exchangeAvailable.Add(l.allocated)
}

func (l *Ledger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *Ledger) Allocated() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocated
}

// Available reports the capital not yet committed to orders.
func (l *Ledger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total.Sub(l.allocated)
}
