package ui

// speedSteps are the playback speeds offered by the speed keys.
var speedSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}

// fasterSpeed returns the next step above cur, or cur at the top.
func fasterSpeed(cur float64) float64 {
	for _, s := range speedSteps {
		if s > cur {
			return s
		}
	}
	return cur
}

// slowerSpeed returns the next step below cur, or cur at the bottom.
func slowerSpeed(cur float64) float64 {
	for i := len(speedSteps) - 1; i >= 0; i-- {
		if speedSteps[i] < cur {
			return speedSteps[i]
		}
	}
	return cur
}
