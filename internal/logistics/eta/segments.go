package eta

import (
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/geo"
)

// Segment names used in plans.
const (
	SegmentTravel                = "travel"
	SegmentTrafficBuffer         = "traffic_buffer"
	SegmentFirstMile             = "first_mile"
	SegmentSourceProcessing      = "source_processing"
	SegmentLineHaul              = "line_haul"
	SegmentDestinationProcessing = "destination_processing"
	SegmentLastMile              = "last_mile"
)

// Segment is one leg of an order's journey.
type Segment struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Plan is the list of legs plus handling time, applied once at the end.
type Plan struct {
	Segments []Segment     `json:"segments"`
	Handling time.Duration `json:"handling"`
}

// Total returns the sum of all segments and handling.
func (p Plan) Total() time.Duration {
	total := p.Handling
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// From returns a plan with the legs before index start removed.
func (p Plan) From(start int) Plan {
	if start <= 0 {
		return p
	}
	if start > len(p.Segments) {
		start = len(p.Segments)
	}
	return Plan{Segments: p.Segments[start:], Handling: p.Handling}
}

// HandlingTime sums (base + fragile + perishable) * quantity over items.
func (c Config) HandlingTime(items []logistics.OrderItem) time.Duration {
	var total time.Duration
	for _, item := range items {
		per := c.BaseHandling
		if item.Fragile {
			per += c.FragileHandling
		}
		if item.Perishable {
			per += c.PerishableHandling
		}
		total += per * time.Duration(item.Quantity)
	}
	return total
}

// localPlan covers direct seller to customer delivery.
func (c Config) localPlan(order logistics.Order) Plan {
	km := c.DefaultLocalDistanceKm
	if order.Pickup != nil && order.Drop != nil {
		km = geo.DistanceKm(*order.Pickup, *order.Drop)
	}
	travel := minutes(geo.TravelMinutes(km, c.LocalSpeedKmh))
	buffer := time.Duration(math.Round(float64(travel) * c.TrafficBuffer))
	return Plan{
		Segments: []Segment{
			{Name: SegmentTravel, Duration: travel},
			{Name: SegmentTrafficBuffer, Duration: buffer},
		},
		Handling: c.HandlingTime(order.Items),
	}
}

// intercityPlan covers the five sequential legs through two warehouses.
// source and destination are nil when they could not be resolved.
func (c Config) intercityPlan(order logistics.Order, source, destination *logistics.Warehouse) Plan {
	firstMile := c.DefaultFirstMile
	if order.Pickup != nil && source != nil {
		firstMile = minutes(geo.TravelMinutes(geo.DistanceKm(*order.Pickup, source.Location), c.LocalSpeedKmh))
	}

	lineHaul := c.DefaultLineHaul
	if source != nil && destination != nil {
		lineHaul = minutes(geo.TravelMinutes(geo.DistanceKm(source.Location, destination.Location), c.IntercitySpeedKmh))
	}

	lastMile := c.DefaultLastMile
	if order.Drop != nil && destination != nil {
		lastMile = minutes(geo.TravelMinutes(geo.DistanceKm(destination.Location, *order.Drop), c.LocalSpeedKmh))
	}

	return Plan{
		Segments: []Segment{
			{Name: SegmentFirstMile, Duration: firstMile},
			{Name: SegmentSourceProcessing, Duration: c.WarehouseProcessing},
			{Name: SegmentLineHaul, Duration: lineHaul},
			{Name: SegmentDestinationProcessing, Duration: c.WarehouseProcessing},
			{Name: SegmentLastMile, Duration: lastMile},
		},
		Handling: c.HandlingTime(order.Items),
	}
}

// remainingFrom maps an order status to the first intercity leg still
// ahead of the order.
func remainingFrom(status logistics.OrderStatus) int {
	switch status {
	case logistics.OrderStatusPickupComplete:
		return 1
	case logistics.OrderStatusInTransit:
		return 2
	case logistics.OrderStatusAtDestinationWH:
		return 3
	case logistics.OrderStatusOutForDelivery:
		return 4
	default:
		return 0
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(math.Round(m * float64(time.Minute)))
}
