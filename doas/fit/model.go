package fit

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-doas/internal/interp"
)

// refFunc is a reference spectrum normalised to unit peak magnitude and
// interpolated over the pixel index.
type refFunc struct {
	spline *interp.Spline
	scale  float64
}

func newRefFunc(data []float64) *refFunc {
	scale := 0.0
	for _, v := range data {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}
	norm := make([]float64, len(data))
	vecmath.ScaleBlock(norm, data, 1/scale)
	return &refFunc{spline: interp.NewSpline(norm), scale: scale}
}

// eval writes the normalised reference at the shifted and squeezed
// positions of xs into dst.
func (f *refFunc) eval(dst, xs []float64, center, shift, squeeze float64) {
	for i, x := range xs {
		dst[i] = f.spline.At(center + (x-shift-center)/squeeze)
	}
}

// termSpec is a reference as seen by the model builder.
type termSpec struct {
	name    string
	fn      *refFunc
	column  Param
	shift   Param
	squeeze Param

	seed   float64 // initial shift when seeded
	seeded bool
}

// slot is a nonlinear parameter value: an index into theta, or a fixed
// value when idx < 0.
type slot struct {
	idx   int
	value float64
}

func (s slot) at(theta []float64) float64 {
	if s.idx >= 0 {
		return theta[s.idx]
	}
	return s.value
}

type term struct {
	fn      *refFunc
	group   int     // linear column, -1 when the column is fixed
	weight  float64 // fn scale relative to the group owner
	fixed   float64 // physical column when group < 0
	shift   slot
	squeeze slot
}

type group struct {
	scale   float64
	bounded bool
	lo, hi  float64 // physical limits when bounded
}

type nlParam struct {
	lo, hi float64
	init   float64
	step   float64 // finite-difference step
}

// problem is a fit model bound to a target range.
type problem struct {
	xs     []float64
	y      []float64
	center float64
	half   float64

	terms  []term
	groups []group
	poly   int
	nl     []nlParam

	// owners maps every spec to its term index.
	owners []int
}

func (p *problem) numLinear() int {
	return len(p.groups) + p.poly + 1
}

// build resolves the parameter policy of specs and binds them to the
// samples y[lo:hi].
func build(specs []termSpec, poly int, y []float64, lo, hi int) (*problem, error) {
	if lo < 0 || hi > len(y) || hi <= lo {
		return nil, fmt.Errorf("%w: [%d,%d) of %d samples", ErrFitRange, lo, hi, len(y))
	}

	p := &problem{
		xs:     make([]float64, hi-lo),
		y:      make([]float64, hi-lo),
		center: float64(lo+hi-1) / 2,
		half:   math.Max(float64(hi-lo)/2, 0.5),
		poly:   poly,
		owners: make([]int, len(specs)),
	}
	for i := range p.xs {
		p.xs[i] = float64(lo + i)
	}
	copy(p.y, y[lo:hi])

	colRoots, err := resolveLinks(specs, kindColumn)
	if err != nil {
		return nil, err
	}
	shiftRoots, err := resolveLinks(specs, kindShift)
	if err != nil {
		return nil, err
	}
	squeezeRoots, err := resolveLinks(specs, kindSqueeze)
	if err != nil {
		return nil, err
	}

	groupOf := map[int]int{}
	shiftSlot := map[int]slot{}
	squeezeSlot := map[int]slot{}

	for i := range specs {
		s := &specs[i]
		t := term{fn: s.fn, group: -1}

		root := colRoots[i]
		rp := specs[root].column
		switch rp.Option {
		case OptionFix:
			t.fixed = rp.Value
		default:
			g, ok := groupOf[root]
			if !ok {
				g = len(p.groups)
				gr := group{scale: specs[root].fn.scale}
				if rp.Option == OptionLimit {
					gr.bounded, gr.lo, gr.hi = true, math.Min(rp.Value, rp.Max), math.Max(rp.Value, rp.Max)
				}
				p.groups = append(p.groups, gr)
				groupOf[root] = g
			}
			t.group = g
			t.weight = s.fn.scale / p.groups[g].scale
		}

		t.shift = p.nonlinear(shiftSlot, shiftRoots[i], specs, kindShift)
		t.squeeze = p.nonlinear(squeezeSlot, squeezeRoots[i], specs, kindSqueeze)

		p.owners[i] = len(p.terms)
		p.terms = append(p.terms, t)
	}

	if len(p.xs) <= p.numLinear()+len(p.nl) {
		return nil, fmt.Errorf("%w: %d samples for %d parameters", ErrFitRange, len(p.xs), p.numLinear()+len(p.nl))
	}
	return p, nil
}

func (p *problem) nonlinear(slots map[int]slot, root int, specs []termSpec, k paramKind) slot {
	if s, ok := slots[root]; ok {
		return s
	}
	owner := &specs[root]
	param := owner.param(k)

	def := nlParam{lo: -DefaultShiftLimit, hi: DefaultShiftLimit, init: 0, step: 1e-4}
	if k == kindSqueeze {
		def = nlParam{lo: DefaultSqueezeLow, hi: DefaultSqueezeHigh, init: 1, step: 1e-6}
	}

	var s slot
	switch param.Option {
	case OptionFix:
		s = slot{idx: -1, value: param.Value}
	case OptionLimit:
		def.lo, def.hi = math.Min(param.Value, param.Max), math.Max(param.Value, param.Max)
		fallthrough
	default:
		if k == kindShift && owner.seeded {
			def.init = owner.seed
		}
		def.init = clamp(def.init, def.lo, def.hi)
		s = slot{idx: len(p.nl)}
		p.nl = append(p.nl, def)
	}
	slots[root] = s
	return s
}

// design assembles the design matrix of the linear parameters at theta and
// the summed contribution of fixed columns.
func (p *problem) design(theta []float64) (*mat.Dense, []float64) {
	m := len(p.xs)
	cols := make([][]float64, p.numLinear())
	for j := range cols {
		cols[j] = make([]float64, m)
	}
	fixed := make([]float64, m)
	buf := make([]float64, m)

	for _, t := range p.terms {
		t.fn.eval(buf, p.xs, p.center, t.shift.at(theta), t.squeeze.at(theta))
		if t.group < 0 {
			vecmath.ScaleBlock(buf, buf, t.fixed*t.fn.scale)
			vecmath.AddBlockInPlace(fixed, buf)
			continue
		}
		vecmath.ScaleBlock(buf, buf, t.weight)
		vecmath.AddBlockInPlace(cols[t.group], buf)
	}

	for k := 0; k <= p.poly; k++ {
		col := cols[len(p.groups)+k]
		for i, x := range p.xs {
			col[i] = math.Pow((x-p.center)/p.half, float64(k))
		}
	}

	a := mat.NewDense(m, len(cols), nil)
	for j, c := range cols {
		a.SetCol(j, c)
	}
	return a, fixed
}

// linearSolution is the outcome of solving the linear parameters for one
// theta.
type linearSolution struct {
	coef  []float64
	resid []float64
	chi2  float64
	a     *mat.Dense
	fixed []float64
	// clamped marks bounded columns pinned at a limit.
	clamped []bool
}

// solveLinear solves the linear parameters at theta by QR least squares.
// Bounded columns outside their limits are pinned at the limit and the
// remaining columns are solved again.
func (p *problem) solveLinear(theta []float64) (*linearSolution, error) {
	a, fixed := p.design(theta)
	m, n := a.Dims()

	b := make([]float64, m)
	for i := range b {
		b[i] = p.y[i] - fixed[i]
	}

	clamped := make([]bool, n)
	pinned := make([]float64, n)
	var coef []float64

	for range len(p.groups) + 1 {
		free := make([]int, 0, n)
		rhs := make([]float64, m)
		copy(rhs, b)
		for j := 0; j < n; j++ {
			if !clamped[j] {
				free = append(free, j)
				continue
			}
			for i := range rhs {
				rhs[i] -= pinned[j] * a.At(i, j)
			}
		}

		sub := mat.NewDense(m, len(free), nil)
		for k, j := range free {
			for i := 0; i < m; i++ {
				sub.Set(i, k, a.At(i, j))
			}
		}
		x, err := leastSquares(sub, rhs)
		if err != nil {
			return nil, err
		}

		coef = make([]float64, n)
		copy(coef, pinned)
		for k, j := range free {
			coef[j] = x[k]
		}

		changed := false
		for g, gr := range p.groups {
			if !gr.bounded || clamped[g] {
				continue
			}
			phys := coef[g] / gr.scale
			if phys < gr.lo || phys > gr.hi {
				clamped[g] = true
				pinned[g] = clamp(phys, gr.lo, gr.hi) * gr.scale
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	sol := &linearSolution{coef: coef, resid: make([]float64, m), a: a, fixed: fixed, clamped: clamped}
	cv := mat.NewVecDense(n, coef)
	var model mat.VecDense
	model.MulVec(a, cv)
	for i := range sol.resid {
		r := b[i] - model.AtVec(i)
		sol.resid[i] = r
		sol.chi2 += r * r
	}
	if math.IsNaN(sol.chi2) || math.IsInf(sol.chi2, 0) {
		return nil, fmt.Errorf("%w: non-finite chi-square", ErrFitFailed)
	}
	return sol, nil
}

// rankTolerance is the smallest accepted ratio of a diagonal element of R
// to the largest one.
const rankTolerance = 1e-10

func leastSquares(a *mat.Dense, b []float64) ([]float64, error) {
	_, n := a.Dims()
	if n == 0 {
		return nil, nil
	}
	var qr mat.QR
	qr.Factorize(a)

	var r mat.Dense
	qr.RTo(&r)
	largest := 0.0
	for j := 0; j < n; j++ {
		largest = math.Max(largest, math.Abs(r.At(j, j)))
	}
	for j := 0; j < n; j++ {
		if math.Abs(r.At(j, j)) <= rankTolerance*largest {
			return nil, fmt.Errorf("%w: column %d is linearly dependent", ErrSingular, j)
		}
	}

	x := mat.NewVecDense(n, nil)
	if err := qr.SolveVecTo(x, false, mat.NewVecDense(len(b), b)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return x.RawVector().Data, nil
}

// modelAt evaluates the full model at theta with fixed linear
// coefficients.
func (p *problem) modelAt(theta, coef []float64) []float64 {
	a, fixed := p.design(theta)
	var out mat.VecDense
	out.MulVec(a, mat.NewVecDense(len(coef), coef))
	res := make([]float64, len(fixed))
	for i := range res {
		res[i] = out.AtVec(i) + fixed[i]
	}
	return res
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
