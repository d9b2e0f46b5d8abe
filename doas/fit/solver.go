package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	lambdaStart = 1e-3
	lambdaMax   = 1e12
)

type solution struct {
	theta []float64
	lin   *linearSolution
	steps int
}

// solve minimises the residual sum of squares over the nonlinear
// parameters with a bounded Levenberg-Marquardt iteration. The linear
// parameters are eliminated at every trial point. The iteration stops when
// the relative chi-square improvement of an accepted step drops below
// minChi or after maxSteps steps.
func (p *problem) solve(maxSteps int, minChi float64) (*solution, error) {
	theta := make([]float64, len(p.nl))
	for j, q := range p.nl {
		theta[j] = q.init
	}

	lin, err := p.solveLinear(theta)
	if err != nil {
		return nil, err
	}
	sol := &solution{theta: theta, lin: lin, steps: 1}
	if len(theta) == 0 {
		return sol, nil
	}

	k := len(theta)
	lambda := lambdaStart
	for step := 1; step <= maxSteps; step++ {
		sol.steps = step
		if sol.lin.chi2 == 0 {
			break
		}

		jac, err := p.residualJacobian(sol.theta)
		if err != nil {
			return nil, err
		}

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		grad := mat.NewVecDense(k, nil)
		grad.MulVec(jac.T(), mat.NewVecDense(len(sol.lin.resid), sol.lin.resid))

		accepted := false
		for !accepted && lambda < lambdaMax {
			damped := mat.NewSymDense(k, nil)
			damped.CopySym(&jtj)
			for j := 0; j < k; j++ {
				d := jtj.At(j, j)
				damped.SetSym(j, j, d+lambda*math.Max(d, 1e-12))
			}

			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			delta := mat.NewVecDense(k, nil)
			if err := chol.SolveVecTo(delta, grad); err != nil {
				lambda *= 10
				continue
			}

			trial := make([]float64, k)
			for j := range trial {
				trial[j] = clamp(sol.theta[j]-delta.AtVec(j), p.nl[j].lo, p.nl[j].hi)
			}
			next, err := p.solveLinear(trial)
			if err != nil || next.chi2 >= sol.lin.chi2 {
				lambda *= 10
				continue
			}

			improvement := (sol.lin.chi2 - next.chi2) / sol.lin.chi2
			sol.theta, sol.lin = trial, next
			lambda = math.Max(lambda/10, 1e-12)
			accepted = true
			if improvement < minChi {
				return sol, nil
			}
		}
		if !accepted {
			break
		}
	}
	return sol, nil
}

// residualJacobian differentiates the projected residual with respect to
// theta by central differences.
func (p *problem) residualJacobian(theta []float64) (*mat.Dense, error) {
	m := len(p.xs)
	jac := mat.NewDense(m, len(theta), nil)
	probe := make([]float64, len(theta))
	for j := range theta {
		h := p.nl[j].step * math.Max(1, math.Abs(theta[j]))
		copy(probe, theta)
		probe[j] = theta[j] + h
		up, err := p.solveLinear(probe)
		if err != nil {
			return nil, err
		}
		probe[j] = theta[j] - h
		down, err := p.solveLinear(probe)
		if err != nil {
			return nil, err
		}
		for i := 0; i < m; i++ {
			jac.Set(i, j, (up.resid[i]-down.resid[i])/(2*h))
		}
	}
	return jac, nil
}

// covariance returns the standard errors of the linear coefficients and of
// theta from the Jacobian of the full model, scaled by chi2/(n-p).
func (p *problem) covariance(sol *solution) (linErr, nlErr []float64) {
	a := sol.lin.a
	m, nLin := a.Dims()
	k := len(sol.theta)
	n := nLin + k

	full := mat.NewDense(m, n, nil)
	full.Slice(0, m, 0, nLin).(*mat.Dense).Copy(a)

	probe := make([]float64, k)
	for j := range sol.theta {
		h := p.nl[j].step * math.Max(1, math.Abs(sol.theta[j]))
		copy(probe, sol.theta)
		probe[j] = sol.theta[j] + h
		up := p.modelAt(probe, sol.lin.coef)
		probe[j] = sol.theta[j] - h
		down := p.modelAt(probe, sol.lin.coef)
		for i := 0; i < m; i++ {
			full.Set(i, nLin+j, (up[i]-down[i])/(2*h))
		}
	}

	linErr = make([]float64, nLin)
	nlErr = make([]float64, k)

	var info mat.SymDense
	info.SymOuterK(1, full.T())
	var chol mat.Cholesky
	if !chol.Factorize(&info) {
		return linErr, nlErr
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return linErr, nlErr
	}

	dof := float64(m - n)
	if dof <= 0 {
		dof = 1
	}
	s2 := sol.lin.chi2 / dof
	for j := 0; j < nLin; j++ {
		if sol.lin.clamped[j] {
			continue
		}
		linErr[j] = math.Sqrt(math.Max(cov.At(j, j), 0) * s2)
	}
	for j := 0; j < k; j++ {
		nlErr[j] = math.Sqrt(math.Max(cov.At(nLin+j, nLin+j), 0) * s2)
	}
	return linErr, nlErr
}
