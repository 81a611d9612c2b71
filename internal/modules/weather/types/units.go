package types

const (
	mphPerKph  = 0.621371
	inHgPerMb  = 0.02953
	milesPerKm = 0.621371
)

func CelsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

func KphToMph(kph float64) float64 { return kph * mphPerKph }

func MbToInHg(mb float64) float64 { return mb * inHgPerMb }

func KmToMiles(km float64) float64 { return km * milesPerKm }
