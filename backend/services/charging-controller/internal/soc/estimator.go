// Package soc estimates a vehicle's state of charge.
package soc

// Input gathers what is known about a session at one tick. Nil pointers mean
// the value is unknown.
type Input struct {
	Server     *float64
	BatteryKWh *float64
	InitialSOC *float64
	EnergyKWh  float64
}

// Estimate returns the state of charge in [0,1]. A server-reported value
// always wins. Without it, battery capacity and initial SOC are both required;
// ok is false when the SOC cannot be known and the caller must show "unknown".
func Estimate(in Input) (value float64, ok bool) {
	if in.Server != nil {
		return Clamp01(*in.Server), true
	}
	if in.BatteryKWh == nil || in.InitialSOC == nil || *in.BatteryKWh <= 0 {
		return 0, false
	}
	return Clamp01(*in.InitialSOC + in.EnergyKWh / *in.BatteryKWh), true
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Full reports whether value reached 1-epsilon.
func Full(value, epsilon float64) bool {
	return value >= 1-epsilon
}
