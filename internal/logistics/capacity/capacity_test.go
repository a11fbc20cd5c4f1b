package capacity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
)

func mustItem(t *testing.T, qty int, weight float64, dims string) logistics.OrderItem {
	t.Helper()
	item, err := logistics.NewOrderItem(qty, weight, dims, false, false)
	require.NoError(t, err)
	return item
}

var localVehicles = []VehicleThreshold{
	{Class: logistics.VehicleMotorcycle, MaxWeight: 100, MaxVolume: 50000},
	{Class: logistics.VehicleCar, MaxWeight: 400, MaxVolume: 200000},
	{Class: logistics.VehicleVan, MaxWeight: 1500, MaxVolume: 600000},
	{Class: logistics.VehicleSmallTruck, MaxWeight: 5000, MaxVolume: 2000000},
	{Class: logistics.VehicleLargeTruck, MaxWeight: 15000, MaxVolume: 6000000},
}

func TestOrderWeightAndVolume(t *testing.T) {
	order := logistics.Order{Items: []logistics.OrderItem{
		mustItem(t, 2, 1.5, "10x10x10"),
		mustItem(t, 1, 4, "20x10x5"),
	}}

	assert.InDelta(t, 7.0, OrderWeight(order), 1e-9)
	volume, err := OrderVolume(order)
	require.NoError(t, err)
	assert.InDelta(t, 3000.0, volume, 1e-9)

	load, err := Measure(order)
	require.NoError(t, err)
	assert.Equal(t, Load{Weight: 7, Volume: 3000}, load)
}

func TestOrderVolumeMalformed(t *testing.T) {
	bad, _ := logistics.NewOrderItem(1, 1, "10x10", false, false)
	order := logistics.Order{Items: []logistics.OrderItem{mustItem(t, 1, 1, "1x1x1"), bad}}

	_, err := OrderVolume(order)
	require.Error(t, err)
	var perr *logistics.ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestMeasureDefect(t *testing.T) {
	defect := errors.New("quantity must be positive")
	_, err := Measure(logistics.Order{Defect: defect})
	assert.ErrorIs(t, err, defect)
}

func TestVehicleClassFor(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		volume float64
		class  logistics.VehicleClass
		fits   bool
	}{
		{name: "empty", class: logistics.VehicleMotorcycle, fits: true},
		{name: "motorcycle edge", weight: 100, volume: 50000, class: logistics.VehicleMotorcycle, fits: true},
		{name: "volume pushes to car", weight: 10, volume: 50001, class: logistics.VehicleCar, fits: true},
		{name: "weight pushes to van", weight: 401, volume: 10, class: logistics.VehicleVan, fits: true},
		{name: "large truck", weight: 14000, volume: 10, class: logistics.VehicleLargeTruck, fits: true},
		{name: "overflow", weight: 20000, volume: 10, class: logistics.VehicleLargeTruck, fits: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			class, fits := VehicleClassFor(tc.weight, tc.volume, localVehicles)
			assert.Equal(t, tc.class, class)
			assert.Equal(t, tc.fits, fits)
		})
	}

	class, fits := VehicleClassFor(1, 1, nil)
	assert.Empty(t, class)
	assert.False(t, fits)
}

func TestFits(t *testing.T) {
	bounds := Bounds{MaxOrders: 2, MaxWeight: 10, MaxVolume: 100}

	assert.True(t, Fits(Totals{}, Load{Weight: 10, Volume: 100}, bounds))
	assert.False(t, Fits(Totals{}, Load{Weight: 10.5, Volume: 1}, bounds))
	assert.False(t, Fits(Totals{Load: Load{Weight: 5, Volume: 90}, Count: 1}, Load{Weight: 1, Volume: 11}, bounds))
	assert.False(t, Fits(Totals{Load: Load{Weight: 1, Volume: 1}, Count: 2}, Load{Weight: 1, Volume: 1}, bounds))
}
