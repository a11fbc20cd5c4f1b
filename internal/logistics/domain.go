// Package logistics holds the domain types shared by the batch formation
// and delivery time estimation engine.
package logistics

import (
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/geo"
)

// ============================================================================
// ORDER STATUS
// ============================================================================

// OrderStatus represents the position of an order in the delivery pipeline.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"           // Created, waiting for pickup batching
	OrderStatusAssignedToBatch OrderStatus = "ASSIGNED_TO_BATCH" // In a local pickup batch
	OrderStatusPickupComplete  OrderStatus = "PICKUP_COMPLETE"   // At source warehouse, waiting for intercity batching
	OrderStatusInTransit       OrderStatus = "IN_TRANSIT"        // Travelling between warehouses
	OrderStatusAtDestinationWH OrderStatus = "AT_DESTINATION_WH" // Waiting for local delivery batching
	OrderStatusOutForDelivery  OrderStatus = "OUT_FOR_DELIVERY"  // In a local delivery batch
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// IsValid checks if the status is known.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAssignedToBatch, OrderStatusPickupComplete,
		OrderStatusInTransit, OrderStatusAtDestinationWH, OrderStatusOutForDelivery,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further pipeline transition can happen.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ============================================================================
// BATCH TYPE & STATUS
// ============================================================================

// BatchType identifies the pipeline stage a batch belongs to.
type BatchType string

const (
	BatchTypeLocalPickup   BatchType = "LOCAL_PICKUP"
	BatchTypeIntercity     BatchType = "INTERCITY"
	BatchTypeLocalDelivery BatchType = "LOCAL_DELIVERY"
)

// EntryStatus returns the order status a stage picks orders up from.
func (t BatchType) EntryStatus() (OrderStatus, error) {
	switch t {
	case BatchTypeLocalPickup:
		return OrderStatusPending, nil
	case BatchTypeIntercity:
		return OrderStatusPickupComplete, nil
	case BatchTypeLocalDelivery:
		return OrderStatusAtDestinationWH, nil
	default:
		return "", &UnknownBatchTypeError{Type: t}
	}
}

// TargetStatus returns the order status members receive when a batch of
// this type is created.
func (t BatchType) TargetStatus() (OrderStatus, error) {
	switch t {
	case BatchTypeLocalPickup:
		return OrderStatusAssignedToBatch, nil
	case BatchTypeIntercity:
		return OrderStatusInTransit, nil
	case BatchTypeLocalDelivery:
		return OrderStatusOutForDelivery, nil
	default:
		return "", &UnknownBatchTypeError{Type: t}
	}
}

// BatchStatus represents the lifecycle of a batch.
type BatchStatus string

const (
	BatchStatusCollecting BatchStatus = "COLLECTING" // Formed, waiting for a driver
	BatchStatusProcessing BatchStatus = "PROCESSING" // Driver assigned
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusCancelled  BatchStatus = "CANCELLED"
)

// IsValid checks if the status is valid
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusCollecting, BatchStatusProcessing, BatchStatusCompleted, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// VehicleClass is a capacity tier derived from batch totals.
type VehicleClass string

const (
	VehicleMotorcycle VehicleClass = "MOTORCYCLE"
	VehicleCar        VehicleClass = "CAR"
	VehicleVan        VehicleClass = "VAN"
	VehicleSmallTruck VehicleClass = "SMALL_TRUCK"
	VehicleLargeTruck VehicleClass = "LARGE_TRUCK"
)

// ============================================================================
// ENTITIES
// ============================================================================

// Order is one customer purchase moving through the delivery pipeline.
type Order struct {
	ID                    string      `json:"id"`
	SellerID              string      `json:"seller_id"`
	WarehouseID           string      `json:"warehouse_id,omitempty"`
	SecondaryWarehouseID  string      `json:"secondary_warehouse_id,omitempty"`
	Status                OrderStatus `json:"status"`
	BatchID               string      `json:"batch_id,omitempty"`
	IsLocalDelivery       bool        `json:"is_local_delivery"`
	Pickup                *geo.Point  `json:"pickup,omitempty"`
	Drop                  *geo.Point  `json:"drop,omitempty"`
	PickupGovernorate     string      `json:"pickup_governorate,omitempty"`
	DropGovernorate       string      `json:"drop_governorate,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	EstimatedDeliveryTime *time.Time  `json:"estimated_delivery_time,omitempty"`
	Items                 []OrderItem `json:"items,omitempty"`

	// Defect is set by the store when an item failed validation while the
	// order was loaded. Such orders are skipped by the scheduler.
	Defect error `json:"-"`
}

// Batched reports whether the order already references a batch.
func (o Order) Batched() bool {
	return o.BatchID != ""
}

// Age returns how long the order has been waiting at now.
func (o Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// OrderItem is one validated line item of an order.
type OrderItem struct {
	Quantity   int        `json:"quantity"`
	Weight     float64    `json:"weight"`
	Dimensions Dimensions `json:"dimensions"`
	Fragile    bool       `json:"fragile"`
	Perishable bool       `json:"perishable"`
}

// Batch is a capacity-bounded group of orders moving together through
// one pipeline stage.
type Batch struct {
	ID           string       `json:"id"`
	WarehouseID  string       `json:"warehouse_id"`
	Type         BatchType    `json:"type"`
	Status       BatchStatus  `json:"status"`
	TotalWeight  float64      `json:"total_weight"`
	TotalVolume  float64      `json:"total_volume"`
	OrderCount   int          `json:"order_count"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	NeedsReview  bool         `json:"needs_review"`
	OrderIDs     []string     `json:"order_ids,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Warehouse is a fixed facility consulted for routing.
type Warehouse struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Governorate string    `json:"governorate"`
	Coverage    []string  `json:"coverage"`
	Location    geo.Point `json:"location"`
}
