package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Default precision parameters for the QCP characteristic-polynomial solve.
const (
	defaultEvalPrec    = 1e-11
	defaultEvecPrec    = 1e-6
	defaultQCPMaxIters = 50
)

// Errors returned by WeightedSuperpose. In both cases the returned
// Superposition is the identity, so callers may treat either as a no-op.
var (
	// ErrInvalidSuperposeInput indicates mismatched lengths, empty point
	// sets, non-finite values, or weights that sum to zero.
	ErrInvalidSuperposeInput = errors.New("superpose inputs must be equal-length, non-empty, finite, with positive total weight")
	// ErrSuperposeDegenerate indicates the Newton iteration failed to
	// converge or every eigenvector fallback column was numerically zero.
	ErrSuperposeDegenerate = errors.New("superpose eigen solve was numerically degenerate")
)

// Superposition is the result of a weighted superposition: the rotation and
// translation minimizing the weighted squared distance between two point
// sets, plus the residual mean squared deviation at the optimum.
type Superposition struct {
	Rotation    quat.Number
	Translation r3.Vector
	RMSD        float64
}

func identitySuperposition() *Superposition {
	return &Superposition{Rotation: quat.Number{Real: 1}}
}

// QCP solves the optimal-rotation superposition problem using Theobald's
// quaternion characteristic polynomial method: the largest eigenvalue of the
// 4×4 key matrix is found by Newton iteration on a closed-form quartic, and
// the rotation is read off the corresponding adjoint column. A QCP value is
// scratch state for one solve at a time and is not safe for concurrent use.
type QCP struct {
	evalPrec      float64
	evecPrec      float64
	maxIterations int

	sxx, sxy, sxz float64
	syx, syy, syz float64
	szx, szy, szz float64

	sxzPlusSzx, syzPlusSzy, sxyPlusSyx    float64
	syzMinusSzy, sxzMinusSzx, sxyMinusSyx float64
	sxxPlusSyy, sxxMinusSyy               float64
}

// NewQCP returns a solver with the default precision parameters.
func NewQCP() *QCP {
	return &QCP{
		evalPrec:      defaultEvalPrec,
		evecPrec:      defaultEvecPrec,
		maxIterations: defaultQCPMaxIters,
	}
}

// SetPrecision overrides the eigenvector fallback threshold and the Newton
// stopping tolerance.
func (q *QCP) SetPrecision(evecPrec, evalPrec float64) {
	q.evecPrec = evecPrec
	q.evalPrec = evalPrec
}

// SetMaxIterations overrides the Newton iteration cap.
func (q *QCP) SetMaxIterations(iters int) {
	q.maxIterations = iters
}

// WeightedSuperpose computes the rotation (and, if translate is set, the
// translation) minimizing Σᵢ wᵢ‖R·moved[i] + t − target[i]‖². The returned
// rotation is a unit quaternion in canonical (non-negative scalar) form.
// Invalid input or a degenerate eigen solve returns the identity result and
// a sentinel error; the input slices are never mutated.
func (q *QCP) WeightedSuperpose(moved, target []r3.Vector, weights []float64, translate bool) (*Superposition, error) {
	if len(moved) == 0 || len(moved) != len(target) || len(moved) != len(weights) {
		return identitySuperposition(), ErrInvalidSuperposeInput
	}
	wSum := 0.
	for i, w := range weights {
		if !isFiniteVec(moved[i]) || !isFiniteVec(target[i]) || math.IsNaN(w) || math.IsInf(w, 0) {
			return identitySuperposition(), ErrInvalidSuperposeInput
		}
		wSum += w
	}
	if wSum <= 0 {
		return identitySuperposition(), ErrInvalidSuperposeInput
	}

	var movedCentroid, targetCentroid r3.Vector
	if translate {
		for i, w := range weights {
			movedCentroid = movedCentroid.Add(moved[i].Mul(w))
			targetCentroid = targetCentroid.Add(target[i].Mul(w))
		}
		movedCentroid = movedCentroid.Mul(1 / wSum)
		targetCentroid = targetCentroid.Mul(1 / wSum)

		centeredMoved := make([]r3.Vector, len(moved))
		centeredTarget := make([]r3.Vector, len(target))
		for i := range moved {
			centeredMoved[i] = moved[i].Sub(movedCentroid)
			centeredTarget[i] = target[i].Sub(targetCentroid)
		}
		moved, target = centeredMoved, centeredTarget
	}

	result := identitySuperposition()
	if len(moved) == 1 {
		// A single pair only determines a shortest-arc alignment; with a
		// zero-norm point (or after centering for translation) no rotation
		// is defined and the identity stands.
		result.Rotation = Canonicalize(RotationBetween(moved[0], target[0]))
		residual := target[0].Sub(QuatRotate(result.Rotation, moved[0]))
		result.RMSD = residual.Norm2()
	} else {
		e0 := q.innerProduct(moved, target, weights)
		eigenv, err := q.largestEigenvalue(e0)
		if err != nil {
			return identitySuperposition(), err
		}
		rotation, err := q.eigenvectorRotation(eigenv)
		if err != nil {
			return identitySuperposition(), err
		}
		result.Rotation = rotation
		result.RMSD = math.Max(0, 2*(e0-eigenv)/wSum)
	}

	if translate {
		result.Translation = targetCentroid.Sub(QuatRotate(result.Rotation, movedCentroid))
	}
	return result, nil
}

func isFiniteVec(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// innerProduct fills the weighted inner-product matrix S and returns
// E0 = ½ Σᵢ wᵢ(‖moved[i]‖² + ‖target[i]‖²).
func (q *QCP) innerProduct(moved, target []r3.Vector, weights []float64) float64 {
	var g1, g2 float64
	q.sxx, q.sxy, q.sxz = 0, 0, 0
	q.syx, q.syy, q.syz = 0, 0, 0
	q.szx, q.szy, q.szz = 0, 0, 0

	for i, w := range weights {
		x1 := w * moved[i].X
		y1 := w * moved[i].Y
		z1 := w * moved[i].Z
		g1 += x1*moved[i].X + y1*moved[i].Y + z1*moved[i].Z

		x2 := target[i].X
		y2 := target[i].Y
		z2 := target[i].Z
		g2 += w * (x2*x2 + y2*y2 + z2*z2)

		q.sxx += x1 * x2
		q.sxy += x1 * y2
		q.sxz += x1 * z2
		q.syx += y1 * x2
		q.syy += y1 * y2
		q.syz += y1 * z2
		q.szx += z1 * x2
		q.szy += z1 * y2
		q.szz += z1 * z2
	}
	return (g1 + g2) / 2
}

// largestEigenvalue Newton-iterates the characteristic quartic from the
// starting point e0 (which upper-bounds the largest eigenvalue).
func (q *QCP) largestEigenvalue(e0 float64) (float64, error) {
	sxx2 := q.sxx * q.sxx
	syy2 := q.syy * q.syy
	szz2 := q.szz * q.szz
	sxy2 := q.sxy * q.sxy
	syz2 := q.syz * q.syz
	sxz2 := q.sxz * q.sxz
	syx2 := q.syx * q.syx
	szy2 := q.szy * q.szy
	szx2 := q.szx * q.szx

	syzSzyMinusSyySzz2 := 2 * (q.syz*q.szy - q.syy*q.szz)
	sxx2Syy2Szz2Syz2Szy2 := syy2 + szz2 - sxx2 + syz2 + szy2

	c2 := -2 * (sxx2 + syy2 + szz2 + sxy2 + syx2 + sxz2 + szx2 + syz2 + szy2)
	c1 := 8 * (q.sxx*q.syz*q.szy + q.syy*q.szx*q.sxz + q.szz*q.sxy*q.syx -
		q.sxx*q.syy*q.szz - q.syz*q.szx*q.sxy - q.szy*q.syx*q.sxz)

	q.sxzPlusSzx = q.sxz + q.szx
	q.syzPlusSzy = q.syz + q.szy
	q.sxyPlusSyx = q.sxy + q.syx
	q.syzMinusSzy = q.syz - q.szy
	q.sxzMinusSzx = q.sxz - q.szx
	q.sxyMinusSyx = q.sxy - q.syx
	q.sxxPlusSyy = q.sxx + q.syy
	q.sxxMinusSyy = q.sxx - q.syy

	sxy2Sxz2Syx2Szx2 := sxy2 + sxz2 - syx2 - szx2

	c0 := sxy2Sxz2Syx2Szx2*sxy2Sxz2Syx2Szx2 +
		(sxx2Syy2Szz2Syz2Szy2+syzSzyMinusSyySzz2)*(sxx2Syy2Szz2Syz2Szy2-syzSzyMinusSyySzz2) +
		(-q.sxzPlusSzx*q.syzMinusSzy+q.sxyMinusSyx*(q.sxxMinusSyy-q.szz))*
			(-q.sxzMinusSzx*q.syzPlusSzy+q.sxyMinusSyx*(q.sxxMinusSyy+q.szz)) +
		(-q.sxzPlusSzx*q.syzPlusSzy-q.sxyPlusSyx*(q.sxxPlusSyy-q.szz))*
			(-q.sxzMinusSzx*q.syzMinusSzy-q.sxyPlusSyx*(q.sxxPlusSyy+q.szz)) +
		(q.sxyPlusSyx*q.syzPlusSzy+q.sxzPlusSzx*(q.sxxMinusSyy+q.szz))*
			(-q.sxyMinusSyx*q.syzMinusSzy+q.sxzPlusSzx*(q.sxxPlusSyy+q.szz)) +
		(q.sxyPlusSyx*q.syzMinusSzy+q.sxzMinusSzx*(q.sxxMinusSyy-q.szz))*
			(-q.sxyMinusSyx*q.syzPlusSzy+q.sxzMinusSzx*(q.sxxPlusSyy-q.szz))

	eigenv := e0
	for i := 0; i < q.maxIterations; i++ {
		x2 := eigenv * eigenv
		b := (x2 + c2) * eigenv
		a := b + c1
		d := 2*x2*eigenv + b + a
		if d == 0 {
			return eigenv, nil
		}
		delta := (a*eigenv + c0) / d
		eigenv -= delta
		if math.Abs(delta) < math.Abs(q.evalPrec*eigenv) {
			return eigenv, nil
		}
	}
	return eigenv, ErrSuperposeDegenerate
}

// eigenvectorRotation extracts the rotation quaternion from the adjoint of
// the key matrix at the given eigenvalue, falling back through the remaining
// columns when a column is numerically zero.
func (q *QCP) eigenvectorRotation(eigenv float64) (quat.Number, error) {
	a11 := q.sxxPlusSyy + q.szz - eigenv
	a12 := q.syzMinusSzy
	a13 := -q.sxzMinusSzx
	a14 := q.sxyMinusSyx
	a21 := a12
	a22 := q.sxxMinusSyy - q.szz - eigenv
	a23 := q.sxyPlusSyx
	a24 := q.sxzPlusSzx
	a31 := a13
	a32 := a23
	a33 := q.syy - q.sxx - q.szz - eigenv
	a34 := q.syzPlusSzy
	a41 := a14
	a42 := a24
	a43 := a34
	a44 := q.szz - q.sxxPlusSyy - eigenv

	a3344x4334 := a33*a44 - a43*a34
	a3244x4234 := a32*a44 - a42*a34
	a3243x4233 := a32*a43 - a42*a33
	a3143x4133 := a31*a43 - a41*a33
	a3144x4134 := a31*a44 - a41*a34
	a3142x4132 := a31*a42 - a41*a32

	q1 := a22*a3344x4334 - a23*a3244x4234 + a24*a3243x4233
	q2 := -a21*a3344x4334 + a23*a3144x4134 - a24*a3143x4133
	q3 := a21*a3244x4234 - a22*a3144x4134 + a24*a3142x4132
	q4 := -a21*a3243x4233 + a22*a3143x4133 - a23*a3142x4132
	qsqr := q1*q1 + q2*q2 + q3*q3 + q4*q4

	if qsqr < q.evecPrec {
		q1 = a12*a3344x4334 - a13*a3244x4234 + a14*a3243x4233
		q2 = -a11*a3344x4334 + a13*a3144x4134 - a14*a3143x4133
		q3 = a11*a3244x4234 - a12*a3144x4134 + a14*a3142x4132
		q4 = -a11*a3243x4233 + a12*a3143x4133 - a13*a3142x4132
		qsqr = q1*q1 + q2*q2 + q3*q3 + q4*q4

		if qsqr < q.evecPrec {
			a1324x1423 := a13*a24 - a14*a23
			a1224x1422 := a12*a24 - a14*a22
			a1223x1322 := a12*a23 - a13*a22
			a1124x1421 := a11*a24 - a14*a21
			a1123x1321 := a11*a23 - a13*a21
			a1122x1221 := a11*a22 - a12*a21

			q1 = a42*a1324x1423 - a43*a1224x1422 + a44*a1223x1322
			q2 = -a41*a1324x1423 + a43*a1124x1421 - a44*a1123x1321
			q3 = a41*a1224x1422 - a42*a1124x1421 + a44*a1122x1221
			q4 = -a41*a1223x1322 + a42*a1123x1321 - a43*a1122x1221
			qsqr = q1*q1 + q2*q2 + q3*q3 + q4*q4

			if qsqr < q.evecPrec {
				q1 = a32*a1324x1423 - a33*a1224x1422 + a34*a1223x1322
				q2 = -a31*a1324x1423 + a33*a1124x1421 - a34*a1123x1321
				q3 = a31*a1224x1422 - a32*a1124x1421 + a34*a1122x1221
				q4 = -a31*a1223x1322 + a32*a1123x1321 - a33*a1122x1221
				qsqr = q1*q1 + q2*q2 + q3*q3 + q4*q4

				if qsqr < q.evecPrec {
					return quat.Number{Real: 1}, ErrSuperposeDegenerate
				}
			}
		}
	}

	norm := 1 / math.Sqrt(qsqr)
	return Canonicalize(quat.Number{Real: q1 * norm, Imag: q2 * norm, Jmag: q3 * norm, Kmag: q4 * norm}), nil
}
