package batching

import (
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/capacity"
)

// Group is a batch candidate produced by GroupOrders.
type Group struct {
	WarehouseID string
	Orders      []logistics.Order
	Totals      capacity.Totals
}

// OrderIDs returns the member ids in grouping order.
func (g Group) OrderIDs() []string {
	ids := make([]string, len(g.Orders))
	for i, o := range g.Orders {
		ids[i] = o.ID
	}
	return ids
}

// GroupOrders packs orders, already sorted by creation time, into
// capacity-bounded groups with a single greedy pass. An order that does not
// fit closes the current group and seeds the next one, so an order larger
// than the bounds on its own becomes a singleton group. Every order must
// have an entry in loads.
func GroupOrders(orders []logistics.Order, loads map[string]capacity.Load, warehouseID string, bounds capacity.Bounds) []Group {
	var (
		groups  []Group
		current Group
	)
	for _, order := range orders {
		load := loads[order.ID]
		if len(current.Orders) > 0 && !capacity.Fits(current.Totals, load, bounds) {
			groups = append(groups, current)
			current = Group{}
		}
		current.WarehouseID = warehouseID
		current.Orders = append(current.Orders, order)
		current.Totals.Load = current.Totals.Load.Add(load)
		current.Totals.Count++
	}
	if len(current.Orders) > 0 {
		groups = append(groups, current)
	}
	return groups
}
