package kinematics

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

// Kinematics maps chassis velocities to module states and back for one Geometry.
//
// The linear model stacks, for every module i at (x_i, y_i), the rows
//
//	[1 0 -y_i]
//	[0 1  x_i]
//
// so that module velocity vectors = A * [vx vy omega]. Forward kinematics is the least squares
// solution through the pseudo-inverse of A, which is computed once.
type Kinematics struct {
	geometry *Geometry
	forward  *mat.Dense

	mu         sync.Mutex
	lastAngles []float64
}

// New builds the kinematics for a geometry, failing if the layout cannot observe all three
// chassis degrees of freedom.
func New(geometry *Geometry) (*Kinematics, error) {
	if geometry == nil {
		return nil, errors.New("geometry is required")
	}
	n := geometry.Len()
	a := mat.NewDense(2*n, 3, nil)
	for i := 0; i < n; i++ {
		off := geometry.Location(i).Offset
		a.SetRow(2*i, []float64{1, 0, -off.Y})
		a.SetRow(2*i+1, []float64{0, 1, off.X})
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var ataInv mat.Dense
	if err := ataInv.Inverse(&ata); err != nil {
		return nil, errors.Wrap(err, "module layout is degenerate, forward kinematics is not solvable")
	}
	forward := mat.NewDense(3, 2*n, nil)
	forward.Mul(&ataInv, a.T())

	return &Kinematics{
		geometry:   geometry,
		forward:    forward,
		lastAngles: make([]float64, n),
	}, nil
}

// Geometry returns the module layout shared by every consumer of these kinematics.
func (k *Kinematics) Geometry() *Geometry {
	return k.geometry
}

// InverseKinematics returns one state per module for a robot relative chassis velocity.
// A zero command yields zero speeds with each module holding its previous angle.
func (k *Kinematics) InverseKinematics(speeds ChassisSpeeds) []ModuleState {
	return k.InverseKinematicsAround(speeds, r2.Point{})
}

// InverseKinematicsAround is InverseKinematics with the rotation centered on an arbitrary point
// in the robot frame.
func (k *Kinematics) InverseKinematicsAround(speeds ChassisSpeeds, center r2.Point) []ModuleState {
	k.mu.Lock()
	defer k.mu.Unlock()

	states := make([]ModuleState, k.geometry.Len())
	if speeds.IsZero() {
		for i := range states {
			states[i] = ModuleState{Speed: 0, Angle: k.lastAngles[i]}
		}
		return states
	}

	for i := range states {
		r := k.geometry.Location(i).Offset.Sub(center)
		vx := speeds.Vx - speeds.Omega*r.Y
		vy := speeds.Vy + speeds.Omega*r.X
		angle := utils.WrapAngle(math.Atan2(vy, vx))
		states[i] = ModuleState{Speed: math.Hypot(vx, vy), Angle: angle}
		k.lastAngles[i] = angle
	}
	return states
}

// ForwardKinematics recovers the robot relative chassis velocity that best explains the given
// module states.
func (k *Kinematics) ForwardKinematics(states []ModuleState) (ChassisSpeeds, error) {
	if len(states) != k.geometry.Len() {
		return ChassisSpeeds{}, errors.Errorf("expected %d module states but got %d", k.geometry.Len(), len(states))
	}
	x, y, theta := k.solve(len(states), func(i int) (float64, float64) {
		return states[i].Speed, states[i].Angle
	})
	return ChassisSpeeds{Vx: x, Vy: y, Omega: theta}, nil
}

// ForwardDisplacement recovers the robot relative arc the chassis traveled given each module's
// rolled distance since the previous read.
func (k *Kinematics) ForwardDisplacement(deltas []ModulePosition) (spatialmath.Twist2D, error) {
	if len(deltas) != k.geometry.Len() {
		return spatialmath.Twist2D{}, errors.Errorf("expected %d module deltas but got %d", k.geometry.Len(), len(deltas))
	}
	x, y, theta := k.solve(len(deltas), func(i int) (float64, float64) {
		return deltas[i].Distance, deltas[i].Angle
	})
	return spatialmath.Twist2D{Dx: x, Dy: y, Dtheta: theta}, nil
}

func (k *Kinematics) solve(n int, polar func(i int) (float64, float64)) (float64, float64, float64) {
	b := mat.NewVecDense(2*n, nil)
	for i := 0; i < n; i++ {
		magnitude, angle := polar(i)
		sin, cos := math.Sincos(angle)
		b.SetVec(2*i, magnitude*cos)
		b.SetVec(2*i+1, magnitude*sin)
	}
	var out mat.VecDense
	out.MulVec(k.forward, b)
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}

// ResetHeldAngles sets the angles zero commands hold, e.g. after modules were re-aligned.
func (k *Kinematics) ResetHeldAngles(angles []float64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(angles) != len(k.lastAngles) {
		return errors.Errorf("expected %d angles but got %d", len(k.lastAngles), len(angles))
	}
	for i, a := range angles {
		k.lastAngles[i] = utils.WrapAngle(a)
	}
	return nil
}
