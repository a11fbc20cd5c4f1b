package batching

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/capacity"
)

// Limits bound the batches formed by one stage and decide when its
// partitions trigger.
type Limits struct {
	capacity.Bounds
	MinOrders int                         `validate:"gte=1"`
	MaxWait   time.Duration               `validate:"gt=0"`
	Vehicles  []capacity.VehicleThreshold `validate:"min=1,dive"`
}

// Config is the immutable scheduler configuration.
type Config struct {
	Pickup    Limits
	Intercity Limits
	Delivery  Limits

	// PartitionConcurrency caps how many warehouse partitions of one stage
	// are processed at the same time.
	PartitionConcurrency int `validate:"gte=1"`
}

// LocalVehicles is the vehicle table for pickup and delivery batches.
func LocalVehicles() []capacity.VehicleThreshold {
	return []capacity.VehicleThreshold{
		{Class: logistics.VehicleMotorcycle, MaxWeight: 100, MaxVolume: 50_000},
		{Class: logistics.VehicleCar, MaxWeight: 400, MaxVolume: 200_000},
		{Class: logistics.VehicleVan, MaxWeight: 1_500, MaxVolume: 600_000},
		{Class: logistics.VehicleSmallTruck, MaxWeight: 5_000, MaxVolume: 2_000_000},
		{Class: logistics.VehicleLargeTruck, MaxWeight: 15_000, MaxVolume: 6_000_000},
	}
}

// IntercityVehicles is the vehicle table for line-haul batches. Two-wheelers
// and cars never run intercity.
func IntercityVehicles() []capacity.VehicleThreshold {
	return []capacity.VehicleThreshold{
		{Class: logistics.VehicleVan, MaxWeight: 2_000, MaxVolume: 800_000},
		{Class: logistics.VehicleSmallTruck, MaxWeight: 10_000, MaxVolume: 4_000_000},
		{Class: logistics.VehicleLargeTruck, MaxWeight: 25_000, MaxVolume: 10_000_000},
	}
}

// LocalLimits returns the default limits for pickup and delivery stages.
func LocalLimits() Limits {
	return Limits{
		Bounds:    capacity.Bounds{MaxOrders: 50, MaxWeight: 2_000, MaxVolume: 1_000_000},
		MinOrders: 3,
		MaxWait:   180 * time.Minute,
		Vehicles:  LocalVehicles(),
	}
}

// IntercityLimits returns the default limits for the intercity stage.
func IntercityLimits() Limits {
	return Limits{
		Bounds:    capacity.Bounds{MaxOrders: 80, MaxWeight: 10_000, MaxVolume: 5_000_000},
		MinOrders: 10,
		MaxWait:   720 * time.Minute,
		Vehicles:  IntercityVehicles(),
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Pickup:               LocalLimits(),
		Intercity:            IntercityLimits(),
		Delivery:             LocalLimits(),
		PartitionConcurrency: 4,
	}
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("batching config: %w", err)
	}
	for _, stage := range []struct {
		name   string
		limits Limits
	}{
		{"pickup", c.Pickup},
		{"intercity", c.Intercity},
		{"delivery", c.Delivery},
	} {
		if stage.limits.MinOrders > stage.limits.MaxOrders {
			return fmt.Errorf("batching config: %s min orders %d exceeds max orders %d",
				stage.name, stage.limits.MinOrders, stage.limits.MaxOrders)
		}
	}
	return nil
}

// LimitsFor returns the limits configured for a batch type.
func (c Config) LimitsFor(t logistics.BatchType) (Limits, error) {
	switch t {
	case logistics.BatchTypeLocalPickup:
		return c.Pickup, nil
	case logistics.BatchTypeIntercity:
		return c.Intercity, nil
	case logistics.BatchTypeLocalDelivery:
		return c.Delivery, nil
	default:
		return Limits{}, &logistics.UnknownBatchTypeError{Type: t}
	}
}
