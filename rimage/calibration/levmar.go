package calibration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SolverConfig bounds the Levenberg-Marquardt refinement.
type SolverConfig struct {
	MaxIterations int `json:"max_iterations"`
	// Tolerance stops the refinement once an iteration improves the cost by less than this
	// fraction of it.
	Tolerance float64 `json:"tolerance"`
}

// DefaultSolverConfig returns the refinement settings used by the calibrate command.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxIterations: 100, Tolerance: 1e-12}
}

const (
	initialLambda = 1e-3
	minLambda     = 1e-12
	maxLambda     = 1e16
	minDiagonal   = 1e-12
)

// leastSquares is a problem of the form min_x sum(r_i(x)^2).
type leastSquares struct {
	numResiduals int
	// residuals writes r(x) into dst. It must not modify x.
	residuals func(dst, x []float64)
}

type lsResult struct {
	x          []float64
	cost       float64
	iterations int
}

// levenbergMarquardt refines x0 with a Marquardt-scaled damped Gauss-Newton iteration on
// numerical Jacobians.
func levenbergMarquardt(prob leastSquares, x0 []float64, cfg SolverConfig) (*lsResult, error) {
	n, m := len(x0), prob.numResiduals
	if m < n {
		return nil, errors.Wrapf(ErrSolverFailed, "%d residuals cannot constrain %d parameters", m, n)
	}
	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	prob.residuals(r, x)
	cost := floats.Dot(r, r)
	if !isFinite(cost) {
		return nil, errors.Wrap(ErrSolverFailed, "initial cost is not finite")
	}

	var (
		jac      = mat.NewDense(m, n, nil)
		jtj      mat.SymDense
		grad     = mat.NewVecDense(n, nil)
		damped   = mat.NewSymDense(n, nil)
		delta    = mat.NewVecDense(n, nil)
		trial    = make([]float64, n)
		rTrial   = make([]float64, m)
		settings = &fd.JacobianSettings{Formula: fd.Central}
		lambda   = initialLambda
		iter     int
	)
	for iter = 0; iter < cfg.MaxIterations && cost > 0; iter++ {
		fd.Jacobian(jac, prob.residuals, x, settings)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved, factorized := false, false
		for ; lambda <= maxLambda; lambda *= 10 {
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Max(d, minDiagonal))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				continue
			}
			if err := chol.SolveVecTo(delta, grad); err != nil {
				continue
			}
			factorized = true

			for i := range trial {
				trial[i] = x[i] - delta.AtVec(i)
			}
			prob.residuals(rTrial, trial)
			trialCost := floats.Dot(rTrial, rTrial)
			if !isFinite(trialCost) || trialCost >= cost {
				continue
			}

			gain := (cost - trialCost) / cost
			copy(x, trial)
			copy(r, rTrial)
			cost = trialCost
			lambda = math.Max(lambda/10, minLambda)
			improved = true
			if gain < cfg.Tolerance {
				return &lsResult{x: x, cost: cost, iterations: iter + 1}, nil
			}
			break
		}
		if !factorized {
			return nil, errors.Wrap(ErrSolverFailed, "normal equations are singular")
		}
		if !improved {
			// no damping decreases the cost any more: x is a local minimum
			break
		}
	}
	return &lsResult{x: x, cost: cost, iterations: iter}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
