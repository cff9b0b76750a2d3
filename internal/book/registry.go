package book

import (
	"l3book/internal/common"
	"l3book/internal/fixed"
)

// levelKey addresses a level on the ladder store. Orders refer to their level
// by key and re-resolve it on every mutation.
type levelKey struct {
	side  common.Side
	price fixed.Value
}

func keyOf(order *common.Order) levelKey {
	return levelKey{side: order.Side, price: order.Price}
}

// registry maps order ids to resting orders and keeps each level's quantity
// equal to the sum of the orders attributed to it.
type registry struct {
	store   *ladderStore
	orders  map[string]*common.Order
	byLevel map[levelKey]map[string]*common.Order
}

func newRegistry(store *ladderStore) *registry {
	r := &registry{store: store}
	r.reset()
	return r
}

func (r *registry) reset() {
	r.orders = make(map[string]*common.Order)
	r.byLevel = make(map[levelKey]map[string]*common.Order)
}

func (r *registry) get(id string) (*common.Order, bool) {
	order, ok := r.orders[id]
	return order, ok
}

func (r *registry) len() int { return len(r.orders) }

// open rests a new order. It does nothing for a known id or an empty order,
// and does not track the order when its level is rejected at capacity.
func (r *registry) open(id string, side common.Side, price, qty fixed.Value) (*Level, Outcome, bool) {
	if _, ok := r.orders[id]; ok || qty <= 0 {
		return nil, Updated, false
	}

	level, outcome := r.store.upsertLevel(side, price, qty)
	if outcome == RejectedAtCapacity {
		return nil, outcome, false
	}

	r.attach(&common.Order{
		ID:    id,
		Side:  side,
		Price: price,
		Qty:   qty,
	})
	return level, outcome, true
}

// reduce takes qty off an order and its level, removing either once empty.
// Unknown ids are ignored since the feed may mention orders already gone.
// A reduction larger than the order only takes what the order had, so the
// level keeps matching the orders left on it.
func (r *registry) reduce(id string, qty fixed.Value) bool {
	order, ok := r.orders[id]
	if !ok {
		return false
	}

	taken := min(qty, order.Qty)
	order.Qty -= taken
	if order.Qty <= 0 {
		r.detach(order)
	}

	level, ok := r.store.adjustLevel(order.Side, order.Price, -taken)
	if ok && level.Qty <= 0 {
		r.removeLevel(order.Side, level)
	}
	return true
}

// reprice moves an order to newPrice with newQty.
func (r *registry) reprice(id string, newPrice, newQty fixed.Value) bool {
	order, ok := r.orders[id]
	if !ok {
		return false
	}

	// Take the order off its old level first so a level emptied by the move
	// does not drag the order along with it.
	r.detach(order)
	level, ok := r.store.adjustLevel(order.Side, order.Price, -order.Qty)
	if ok && level.Qty <= 0 {
		r.removeLevel(order.Side, level)
	}

	if newQty <= 0 {
		return true
	}
	if _, outcome := r.store.upsertLevel(order.Side, newPrice, newQty); outcome == RejectedAtCapacity {
		return true
	}

	order.Price = newPrice
	order.Qty = newQty
	r.attach(order)
	return true
}

// removeLevel removes level from the ladder store along with any order still
// attributed to it.
func (r *registry) removeLevel(side common.Side, level *Level) {
	if r.store.removeLevel(side, level) {
		r.dropLevel(side, level.Price)
	}
}

// dropLevel forgets every order resting at (side, price). It is used once the
// level itself is gone from the ladder.
func (r *registry) dropLevel(side common.Side, price fixed.Value) int {
	key := levelKey{side: side, price: price}
	members := r.byLevel[key]
	for id := range members {
		delete(r.orders, id)
	}
	delete(r.byLevel, key)
	return len(members)
}

func (r *registry) attach(order *common.Order) {
	r.orders[order.ID] = order
	key := keyOf(order)
	members, ok := r.byLevel[key]
	if !ok {
		members = make(map[string]*common.Order)
		r.byLevel[key] = members
	}
	members[order.ID] = order
}

func (r *registry) detach(order *common.Order) {
	delete(r.orders, order.ID)
	key := keyOf(order)
	if members, ok := r.byLevel[key]; ok {
		delete(members, order.ID)
		if len(members) == 0 {
			delete(r.byLevel, key)
		}
	}
}
