package common

import (
	"fmt"

	"l3book/internal/fixed"
)

// Order is a resting order as tracked by the book. The price doubles as the
// key of the level the order's quantity is attributed to.
type Order struct {
	ID    string      // Feed order id
	Side  Side        // Book side
	Price fixed.Value // Limit price, also the level key
	Qty   fixed.Value // Remaining quantity
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:    %s
Side:  %v
Price: %s
Qty:   %s`,
		order.ID,
		order.Side,
		order.Price,
		order.Qty,
	)
}
