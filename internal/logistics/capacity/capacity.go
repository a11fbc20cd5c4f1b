// Package capacity aggregates order weight and volume and maps batch totals
// to vehicle classes.
package capacity

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
)

// Load is the weight (kg) and volume (cm³) of one order or a whole batch.
type Load struct {
	Weight float64
	Volume float64
}

// Add returns the sum of two loads.
func (l Load) Add(o Load) Load {
	return Load{Weight: l.Weight + o.Weight, Volume: l.Volume + o.Volume}
}

// Totals is the running state of a batch under construction.
type Totals struct {
	Load
	Count int
}

// Bounds are the batch-level maxima enforced during grouping.
type Bounds struct {
	MaxOrders int     `validate:"gt=0"`
	MaxWeight float64 `validate:"gt=0"`
	MaxVolume float64 `validate:"gt=0"`
}

// VehicleThreshold is the capacity of one vehicle class.
type VehicleThreshold struct {
	Class     logistics.VehicleClass `validate:"required"`
	MaxWeight float64                `validate:"gte=0"`
	MaxVolume float64                `validate:"gte=0"`
}

// OrderWeight sums weight times quantity over the order's items.
func OrderWeight(order logistics.Order) float64 {
	var total float64
	for _, item := range order.Items {
		total += item.Weight * float64(item.Quantity)
	}
	return total
}

// OrderVolume sums L*W*H times quantity over the order's items. It fails
// with a *logistics.ParseError when any item has malformed dimensions.
func OrderVolume(order logistics.Order) (float64, error) {
	var total float64
	for i, item := range order.Items {
		v, err := item.Dimensions.Volume()
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		total += v * float64(item.Quantity)
	}
	return total, nil
}

// Measure returns the load of an order. Orders flagged with a defect at the
// persistence boundary are rejected.
func Measure(order logistics.Order) (Load, error) {
	if order.Defect != nil {
		return Load{}, order.Defect
	}
	volume, err := OrderVolume(order)
	if err != nil {
		return Load{}, err
	}
	return Load{Weight: OrderWeight(order), Volume: volume}, nil
}

// VehicleClassFor returns the first class, in ascending capacity order, that
// accommodates weight and volume. When none does it returns the largest
// class and false so the batch can be flagged for review.
func VehicleClassFor(weight, volume float64, thresholds []VehicleThreshold) (logistics.VehicleClass, bool) {
	if len(thresholds) == 0 {
		return "", false
	}
	for _, t := range thresholds {
		if t.MaxWeight >= weight && t.MaxVolume >= volume {
			return t.Class, true
		}
	}
	return thresholds[len(thresholds)-1].Class, false
}

// Fits reports whether adding order to totals keeps weight, volume and count
// within bounds.
func Fits(totals Totals, order Load, bounds Bounds) bool {
	return totals.Count+1 <= bounds.MaxOrders &&
		totals.Weight+order.Weight <= bounds.MaxWeight &&
		totals.Volume+order.Volume <= bounds.MaxVolume
}
