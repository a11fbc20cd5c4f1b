package batching

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/geo"
)

// WarehouseResolver picks the staging warehouse for orders that were
// created without one.
//
// Coverage comes first: warehouses whose coverage list (or own governorate)
// contains the pickup governorate are candidates, and the geographically
// nearest candidate wins when there are several. Without a coverage match
// the nearest warehouse to the pickup point is used.
type WarehouseResolver struct {
	warehouses []logistics.Warehouse
	coverage   []map[string]struct{}
}

// NewWarehouseResolver indexes warehouses by folded governorate name.
func NewWarehouseResolver(warehouses []logistics.Warehouse) *WarehouseResolver {
	sorted := append([]logistics.Warehouse(nil), warehouses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	fold := cases.Fold()
	coverage := make([]map[string]struct{}, len(sorted))
	for i, wh := range sorted {
		set := make(map[string]struct{}, len(wh.Coverage)+1)
		for _, g := range append([]string{wh.Governorate}, wh.Coverage...) {
			if key := normalizeGovernorate(fold, g); key != "" {
				set[key] = struct{}{}
			}
		}
		coverage[i] = set
	}
	return &WarehouseResolver{warehouses: sorted, coverage: coverage}
}

// Resolve returns the warehouse serving the order's pickup location.
func (r *WarehouseResolver) Resolve(order logistics.Order) (logistics.Warehouse, bool) {
	if r == nil || len(r.warehouses) == 0 {
		return logistics.Warehouse{}, false
	}

	var candidates []int
	if key := normalizeGovernorate(cases.Fold(), order.PickupGovernorate); key != "" {
		for i, set := range r.coverage {
			if _, ok := set[key]; ok {
				candidates = append(candidates, i)
			}
		}
	}

	switch {
	case len(candidates) == 1:
		return r.warehouses[candidates[0]], true
	case len(candidates) > 1:
		if order.Pickup == nil {
			return r.warehouses[candidates[0]], true
		}
		return r.warehouses[candidates[r.nearest(*order.Pickup, candidates)]], true
	case order.Pickup != nil:
		all := make([]int, len(r.warehouses))
		for i := range all {
			all[i] = i
		}
		return r.warehouses[r.nearest(*order.Pickup, all)], true
	default:
		return logistics.Warehouse{}, false
	}
}

// nearest returns a position in indexes. Incomparable distances, such as
// those of a NaN origin, fall back to the first index.
func (r *WarehouseResolver) nearest(origin geo.Point, indexes []int) int {
	points := make([]geo.Point, len(indexes))
	for i, idx := range indexes {
		points[i] = r.warehouses[idx].Location
	}
	if i := geo.Nearest(origin, points); i >= 0 {
		return i
	}
	return 0
}

func normalizeGovernorate(fold cases.Caser, name string) string {
	return fold.String(strings.Join(strings.Fields(name), " "))
}
