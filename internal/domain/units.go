package domain

import "fmt"

// Unit of a threshold or forecast value.
type Unit string

const (
	UnitFahrenheit  Unit = "fahrenheit"
	UnitCelsius     Unit = "celsius"
	UnitInches      Unit = "inch"
	UnitMillimeters Unit = "mm"
)

// Convert expresses v (in unit from) in unit to.
// Temperatures convert between themselves, precipitation likewise.
func Convert(v float64, from, to Unit) (float64, error) {
	if from == to || from == "" || to == "" {
		return v, nil
	}
	switch {
	case from == UnitFahrenheit && to == UnitCelsius:
		return (v - 32) * 5 / 9, nil
	case from == UnitCelsius && to == UnitFahrenheit:
		return v*9/5 + 32, nil
	case from == UnitInches && to == UnitMillimeters:
		return v * 25.4, nil
	case from == UnitMillimeters && to == UnitInches:
		return v / 25.4, nil
	}
	return 0, fmt.Errorf("domain.Convert: %s to %s not supported", from, to)
}
