package decay

// Polynomial coefficients of the wood decay model. Humidity below
// minHumidity and temperatures outside [0, 40] °C contribute nothing.
const (
	h5 = 6.75e-10
	h4 = -3.5e-7
	h3 = 7.18e-5
	h2 = -7.22e-3
	h1 = 0.34
	h0 = -4.98

	t4 = -1.8e-6
	t3 = 9.57e-5
	t2 = -1.55e-3
	t1 = 4.17e-2

	minHumidity    = 25.0
	minTemperature = 0.0
	maxTemperature = 40.0

	temperatureWeight = 3.2
)

// HumidityTerm is the humidity contribution for relative humidity h (%)
func HumidityTerm(h float64) float64 {
	if h < minHumidity {
		return 0
	}
	return ((((h5*h+h4)*h+h3)*h+h2)*h+h1)*h + h0
}

// TemperatureTerm is the temperature contribution for t in °C
func TemperatureTerm(t float64) float64 {
	if t < minTemperature || t > maxTemperature {
		return 0
	}
	return (((t4*t+t3)*t+t2)*t + t1) * t
}

// Compute returns the decay rate for one reading: the temperature term
// weighted 3.2 against the humidity term, normalised by the total weight.
func Compute(temperature, humidity float64) float64 {
	return (temperatureWeight*TemperatureTerm(temperature) + HumidityTerm(humidity)) / (temperatureWeight + 1)
}
