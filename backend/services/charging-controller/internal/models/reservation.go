package models

import "time"

// ReservationBrief is the slice of a reservation the controller races against.
type ReservationBrief struct {
	ID              string    `json:"id"`
	StationName     string    `json:"station_name"`
	ConnectorCode   string    `json:"connector_code"`
	EndTime         time.Time `json:"end_time"`
	EstimatedAmount *float64  `json:"estimated_amount,omitempty"`
}

// HasDeadline reports whether the reservation carries an end time.
func (r *ReservationBrief) HasDeadline() bool {
	return r != nil && !r.EndTime.IsZero()
}

// VehicleBrief holds the battery data used when the backend has no live SOC.
type VehicleBrief struct {
	ID         string   `json:"id"`
	BatteryKWh *float64 `json:"battery_kwh,omitempty"`
	InitialSOC *float64 `json:"initial_soc,omitempty"`
}
