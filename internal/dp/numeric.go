package dp

import "math"

// accumulator is a Neumaier compensated sum.
type accumulator struct {
	sum float64
	c   float64
}

func (a *accumulator) add(x float64) {
	t := a.sum + x
	if math.Abs(a.sum) >= math.Abs(x) {
		a.c += (a.sum - t) + x
	} else {
		a.c += (x - t) + a.sum
	}
	a.sum = t
}

func (a *accumulator) value() float64 {
	return a.sum + a.c
}
