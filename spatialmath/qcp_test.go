package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

func quatNorm(q quat.Number) float64 {
	return math.Sqrt(quatDot(q, q))
}

var superposePoints = []r3.Vector{
	{X: 1, Y: 0, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 0, Y: 0, Z: 1},
	{X: 1, Y: 2, Z: 3},
	{X: -2, Y: 0.5, Z: 1.5},
}

func uniformWeights(n int) []float64 {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	return weights
}

func TestWeightedSuperposeIdentity(t *testing.T) {
	sup, err := NewQCP().WeightedSuperpose(superposePoints, superposePoints, uniformWeights(len(superposePoints)), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(sup.Rotation.Real), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, sup.Translation.Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, sup.RMSD, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestWeightedSuperposeRecoversRotation(t *testing.T) {
	for _, angle := range []float64{0.1, 0.7, math.Pi / 2, 2.9} {
		rot := NewQuatFromAxisAngle(r3.Vector{X: 0.3, Y: 1, Z: -0.2}, angle)
		target := make([]r3.Vector, len(superposePoints))
		for i, p := range superposePoints {
			target[i] = QuatRotate(rot, p)
		}
		sup, err := NewQCP().WeightedSuperpose(superposePoints, target, uniformWeights(len(superposePoints)), false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, math.Abs(quatDot(sup.Rotation, rot)), test.ShouldBeGreaterThan, 1-1e-6)
	}
}

func TestWeightedSuperposeRecoversTranslation(t *testing.T) {
	v := r3.Vector{X: 0.4, Y: -2, Z: 1.25}
	target := make([]r3.Vector, len(superposePoints))
	for i, p := range superposePoints {
		target[i] = p.Add(v)
	}
	sup, err := NewQCP().WeightedSuperpose(superposePoints, target, uniformWeights(len(superposePoints)), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(sup.Rotation.Real), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, sup.Translation.Sub(v).Norm(), test.ShouldBeLessThan, 1e-6)
}

func TestWeightedSuperposeRotationAndTranslation(t *testing.T) {
	rot := NewQuatFromAxisAngle(r3.Vector{X: 1, Y: 1, Z: 0}, 0.9)
	v := r3.Vector{X: -1, Y: 0.5, Z: 2}
	target := make([]r3.Vector, len(superposePoints))
	for i, p := range superposePoints {
		target[i] = QuatRotate(rot, p).Add(v)
	}
	sup, err := NewQCP().WeightedSuperpose(superposePoints, target, uniformWeights(len(superposePoints)), true)
	test.That(t, err, test.ShouldBeNil)
	for i, p := range superposePoints {
		moved := QuatRotate(sup.Rotation, p).Add(sup.Translation)
		test.That(t, moved.Sub(target[i]).Norm(), test.ShouldBeLessThan, 1e-6)
	}
}

func TestWeightedSuperposeCanonicalForm(t *testing.T) {
	for _, angle := range []float64{0.3, math.Pi - 0.01, 2 * math.Pi / 3} {
		rot := NewQuatFromAxisAngle(r3.Vector{X: -1, Y: 0.2, Z: 0.4}, angle)
		target := make([]r3.Vector, len(superposePoints))
		for i, p := range superposePoints {
			target[i] = QuatRotate(rot, p)
		}
		weights := []float64{1, 0.5, 2, 0.25, 1.5}
		sup, err := NewQCP().WeightedSuperpose(superposePoints, target, weights, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, quatNorm(sup.Rotation), test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, sup.Rotation.Real, test.ShouldBeGreaterThanOrEqualTo, 0.)
	}
}

func TestWeightedSuperposeSinglePoint(t *testing.T) {
	// A zero-norm source point defines no rotation.
	sup, err := NewQCP().WeightedSuperpose(
		[]r3.Vector{{}},
		[]r3.Vector{{X: 1}},
		[]float64{1},
		false,
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sup.Rotation.Real, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, sup.Translation.Norm(), test.ShouldAlmostEqual, 0, 1e-12)

	// A non-zero pair aligns by the shortest arc.
	sup, err = NewQCP().WeightedSuperpose(
		[]r3.Vector{{Y: 1}},
		[]r3.Vector{{X: 1}},
		[]float64{1},
		false,
	)
	test.That(t, err, test.ShouldBeNil)
	aligned := QuatRotate(sup.Rotation, r3.Vector{Y: 1})
	test.That(t, aligned.Sub(r3.Vector{X: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestWeightedSuperposeInvalidInput(t *testing.T) {
	qcp := NewQCP()

	sup, err := qcp.WeightedSuperpose(nil, nil, nil, false)
	test.That(t, err, test.ShouldBeError, ErrInvalidSuperposeInput)
	test.That(t, sup.Rotation.Real, test.ShouldEqual, 1.)

	sup, err = qcp.WeightedSuperpose(superposePoints, superposePoints[:2], uniformWeights(2), false)
	test.That(t, err, test.ShouldBeError, ErrInvalidSuperposeInput)
	test.That(t, sup.Rotation.Real, test.ShouldEqual, 1.)

	sup, err = qcp.WeightedSuperpose(superposePoints, superposePoints, make([]float64, len(superposePoints)), false)
	test.That(t, err, test.ShouldBeError, ErrInvalidSuperposeInput)
	test.That(t, sup.Rotation.Real, test.ShouldEqual, 1.)

	bad := []r3.Vector{{X: math.NaN()}, {Y: 1}}
	sup, err = qcp.WeightedSuperpose(bad, bad, uniformWeights(2), false)
	test.That(t, err, test.ShouldBeError, ErrInvalidSuperposeInput)
	test.That(t, sup.Rotation.Real, test.ShouldEqual, 1.)
}

func TestWeightedSuperposeDeterministic(t *testing.T) {
	rot := NewQuatFromAxisAngle(r3.Vector{X: 0, Y: 1, Z: 1}, 1.2)
	target := make([]r3.Vector, len(superposePoints))
	for i, p := range superposePoints {
		target[i] = QuatRotate(rot, p)
	}
	first, err := NewQCP().WeightedSuperpose(superposePoints, target, uniformWeights(len(superposePoints)), false)
	test.That(t, err, test.ShouldBeNil)
	second, err := NewQCP().WeightedSuperpose(superposePoints, target, uniformWeights(len(superposePoints)), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Rotation, test.ShouldResemble, second.Rotation)
}
