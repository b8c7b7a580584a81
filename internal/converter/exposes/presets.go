package exposes

func Temperature() Expose {
	return Numeric("temperature", AccessState).WithUnit("°C").WithDescription("Measured temperature value")
}

func Humidity() Expose {
	return Numeric("humidity", AccessState).WithUnit("%").WithDescription("Measured relative humidity")
}

func Battery() Expose {
	return Numeric("battery", AccessState).WithUnit("%").
		WithDescription("Remaining battery in %, can take up to 24 hours before reported").
		WithValueMin(0).WithValueMax(100)
}

func BatteryLow() Expose {
	return Binary("battery_low", AccessState, true, false).
		WithDescription("Indicates if the battery of this device is almost empty")
}

func BatteryVoltage() Expose {
	return Numeric("voltage", AccessState).WithUnit("mV").WithDescription("Voltage of the battery in millivolts")
}

// Calibration is the option expose for an additive offset of a measured property.
func Calibration(property, unit string) Expose {
	return Numeric(property+"_calibration", AccessSet).WithUnit(unit).
		WithDescription("Calibrates the " + property + " value (absolute offset), takes into effect on next report of device.")
}

// Precision is the option expose for the number of decimals of a measured property.
func Precision(property string) Expose {
	return Numeric(property+"_precision", AccessSet).WithValueMin(0).WithValueMax(3).
		WithDescription("Number of digits after decimal point for " + property + ", takes into effect on next report of device.")
}
