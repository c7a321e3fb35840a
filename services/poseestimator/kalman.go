package poseestimator

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// steadyStateGain returns the per-axis gain of a Kalman filter whose process model is the
// identity, K = Q (Q + sqrt(Q R))^-1, for diagonal process noise Q and measurement noise R built
// from standard deviations.
func steadyStateGain(stateStdDevs, measurementStdDevs [3]float64) *mat.DiagDense {
	q := mat.NewDiagDense(3, nil)
	r := mat.NewDiagDense(3, nil)
	for i := 0; i < 3; i++ {
		q.SetDiag(i, stateStdDevs[i]*stateStdDevs[i])
		r.SetDiag(i, measurementStdDevs[i]*measurementStdDevs[i])
	}

	k := mat.NewDiagDense(3, nil)
	for i := 0; i < 3; i++ {
		qi, ri := q.At(i, i), r.At(i, i)
		denom := qi + math.Sqrt(qi*ri)
		if denom == 0 {
			// no process noise: odometry is trusted outright
			continue
		}
		k.SetDiag(i, qi/denom)
	}
	return k
}

// applyGain scales the x, y and heading error by the gain.
func applyGain(k *mat.DiagDense, dx, dy, dtheta float64) (float64, float64, float64) {
	var out mat.VecDense
	out.MulVec(k, mat.NewVecDense(3, []float64{dx, dy, dtheta}))
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}
