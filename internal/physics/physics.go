// Package physics derives pCO2 and fCO2 from calibrated mole fractions.
//
// Pressures are in hPa, temperatures in °C unless noted, vapour pressure in
// atm and pCO2/fCO2 in µatm.
package physics

import (
	"math"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

const (
	kelvinOffset       = 273.15
	standardAtmosphere = 1013.25 // hPa
	gasConstant        = 82.0575 // cm³·atm/(mol·K)
)

// Kelvin converts a temperature from °C.
func Kelvin(celsius float64) float64 {
	return celsius + kelvinOffset
}

// WaterVapourPressure returns the saturated water vapour pressure in atm at
// tequ Kelvin over sea water of the given salinity.
func WaterVapourPressure(tequ, salinity float64) float64 {
	return math.Exp(24.4543 - 67.4509*(100/tequ) - 4.8489*math.Log(tequ/100) - 0.000544*salinity)
}

// PCO2 returns the partial pressure of CO2 at sea surface temperature from
// the dry mole fraction xco2 measured at equilibrator temperature tequ
// (Kelvin) and pressure equPressure.
func PCO2(xco2, equPressure, vpH2O, tequ, seaTemperature float64) float64 {
	return xco2 * (equPressure/standardAtmosphere - vpH2O) * math.Exp(0.0423*(Kelvin(seaTemperature)-tequ))
}

// FCO2 returns the fugacity of CO2 from pCO2 using the virial coefficients
// of CO2 and of the CO2-air mixture at tequ Kelvin.
func FCO2(pco2, xco2, equPressure, tequ float64) float64 {
	b := -1636.75 + 12.0408*tequ - 0.0327957*tequ*tequ + 3.16528e-5*tequ*tequ*tequ
	delta := 57.7 - 0.118*tequ
	x := 1 - xco2*1e-6
	return pco2 * math.Exp((b+2*x*x*delta)*(equPressure/standardAtmosphere)/(gasConstant*tequ))
}

// Derive computes the Physical values of every calibrated record. Each
// quantity depends on the previous one, so they are evaluated in order:
// Tequ, VP_H2O, pCO2, fCO2. Records without calibration are left alone.
func Derive(records []ferrybox.MergedRecord, navPrefix, co2Prefix string) {
	for i := range records {
		rec := &records[i]
		if rec.Calibration == nil {
			continue
		}

		equTemperature := value(rec.Analyzer, co2Prefix+stream.FieldEquTemperature)
		salinity := value(rec.Navigation, navPrefix+stream.FieldSalinity)
		seaTemperature := value(rec.Navigation, navPrefix+stream.FieldSeaTemperature)

		xco2 := rec.Calibration.CorrectedMoleFraction
		pressure := rec.Calibration.EquilibratorPressure

		tequ := Kelvin(equTemperature)
		vp := WaterVapourPressure(tequ, salinity)
		pco2 := PCO2(xco2, pressure, vp, tequ, seaTemperature)

		rec.Physical = &ferrybox.Physical{
			EquilibratorTemperatureK: tequ,
			WaterVapourPressure:      vp,
			PCO2:                     pco2,
			FCO2:                     FCO2(pco2, xco2, pressure, tequ),
		}
	}
}

func value(fields map[string]string, name string) float64 {
	v, ok := ferrybox.ParseFloat(fields, name)
	if !ok {
		return math.NaN()
	}
	return v
}
