package ladder

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// Rung is one price level of the ladder. OrderID stays empty until placement
// succeeds, and is cleared again when the order leaves the book.
type Rung struct {
	Price      decimal.Decimal `json:"price"`
	Side       core.Side       `json:"side"`
	OrderID    string          `json:"order_id,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
}

// sortRungs keeps both sides in canonical ascending price order.
func sortRungs(rungs []Rung) {
	sort.Slice(rungs, func(i, j int) bool {
		return rungs[i].Price.Cmp(rungs[j].Price) < 0
	})
}

func rungIDs(sides ...[]Rung) []string {
	var ids []string
	for _, rungs := range sides {
		for _, r := range rungs {
			if r.OrderID != "" {
				ids = append(ids, r.OrderID)
			}
		}
	}
	return ids
}
