package molseg

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//varianceFloor keeps covariance estimates positive definite under degenerate
//samples.
const varianceFloor = 1e-6

//maxCorrelation bounds the off-diagonal of a 2x2 covariance so the
//determinant stays positive.
const maxCorrelation = 0.99

//ShapePrior holds the conjugate prior hyperparameters for a component's
//positional covariance: an inverse-Wishart-like degrees-of-freedom count and
//per-axis prior variances. Value semantics; each component owns its copy.
type ShapePrior struct {
	DegFreedom int
	PriorVars  [2]float64
}

//CovMatrix will return the prior covariance as a diagonal 2x2 matrix.
func (sp ShapePrior) CovMatrix() *mat.SymDense {
	return diagSym(sp.PriorVars[0], sp.PriorVars[1])
}

//CenterPrior anchors a component's mean position at an externally provided
//center (nuclear stain). DegFreedom is the pseudo-count strength of the pull,
//independent of the shape-prior blending on covariance.
type CenterPrior struct {
	MuX        float64
	MuY        float64
	DegFreedom int
}

//MvNormalParams is the current multivariate normal point estimate of a
//component's molecule positions.
type MvNormalParams struct {
	Mu    *mat.VecDense // length 2
	Sigma *mat.SymDense // 2x2, symmetric positive definite
}

//NewMvNormalParams will build position params from a mean and covariance,
//taking owned copies of both.
func NewMvNormalParams(muX, muY float64, sigma *mat.SymDense) MvNormalParams {
	return MvNormalParams{
		Mu:    mat.NewVecDense(2, []float64{muX, muY}),
		Sigma: cloneSym(sigma),
	}
}

//Clone will deep-copy the params so no component aliases another's state.
func (p MvNormalParams) Clone() MvNormalParams {
	return NewMvNormalParams(p.Mu.AtVec(0), p.Mu.AtVec(1), p.Sigma)
}

//LogPdf will evaluate the bivariate normal log density at (x, y) using the
//closed-form 2x2 inverse.
func (p MvNormalParams) LogPdf(x, y float64) float64 {
	sxx := p.Sigma.At(0, 0)
	syy := p.Sigma.At(1, 1)
	sxy := p.Sigma.At(0, 1)
	det := sxx*syy - sxy*sxy
	if det < varianceFloor*varianceFloor {
		det = varianceFloor * varianceFloor
	}
	dx := x - p.Mu.AtVec(0)
	dy := y - p.Mu.AtVec(1)
	quad := (syy*dx*dx - 2*sxy*dx*dy + sxx*dy*dy) / det
	return -math.Log(2*math.Pi) - 0.5*math.Log(det) - 0.5*quad
}

//Maximize will update the point estimate from the assigned positions under a
//conjugate normal-inverse-Wishart-style blend. Zero samples leave the prior
//untouched. The covariance is a weighted blend of the observed scatter and
//the shape prior's scatter, weighted by priorWeight/(priorWeight+n), so the
//estimate converges to the MLE as n grows. When a center prior is present the
//mean is additionally pulled toward it with its own pseudo-count strength.
func (p *MvNormalParams) Maximize(xs, ys []float64, shape ShapePrior, center *CenterPrior, priorWeight float64) {
	n := float64(len(xs))
	if n == 0 {
		return
	}
	mx := stat.Mean(xs, nil)
	my := stat.Mean(ys, nil)
	if center != nil {
		dfc := float64(center.DegFreedom)
		mx = (n*mx + dfc*center.MuX) / (n + dfc)
		my = (n*my + dfc*center.MuY) / (n + dfc)
	}
	var sxx, sxy, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	sxx /= n
	sxy /= n
	syy /= n
	w := priorWeight / (priorWeight + n)
	sxx = w*shape.PriorVars[0] + (1-w)*sxx
	syy = w*shape.PriorVars[1] + (1-w)*syy
	sxy = (1 - w) * sxy
	sxx, sxy, syy = regularizeCov(sxx, sxy, syy)
	p.Mu.SetVec(0, mx)
	p.Mu.SetVec(1, my)
	p.Sigma.SetSym(0, 0, sxx)
	p.Sigma.SetSym(0, 1, sxy)
	p.Sigma.SetSym(1, 1, syy)
}

//regularizeCov floors the variances and bounds the correlation so the matrix
//stays symmetric positive definite.
func regularizeCov(sxx, sxy, syy float64) (float64, float64, float64) {
	if sxx < varianceFloor {
		sxx = varianceFloor
	}
	if syy < varianceFloor {
		syy = varianceFloor
	}
	bound := maxCorrelation * math.Sqrt(sxx*syy)
	if sxy > bound {
		sxy = bound
	} else if sxy < -bound {
		sxy = -bound
	}
	return sxx, sxy, syy
}

//CompositionParams is the additive-smoothed multinomial estimate of gene
//identity for a component's assigned molecules.
type CompositionParams struct {
	Probs     []float64
	Smoothing float64
}

//NewCompositionParams will build a uniform composition over nGenes genes.
func NewCompositionParams(nGenes int, smoothing float64) CompositionParams {
	probs := make([]float64, nGenes)
	for i := range probs {
		probs[i] = 1. / float64(nGenes)
	}
	return CompositionParams{Probs: probs, Smoothing: smoothing}
}

//Clone will deep-copy the composition params.
func (cp CompositionParams) Clone() CompositionParams {
	return CompositionParams{Probs: append([]float64(nil), cp.Probs...), Smoothing: cp.Smoothing}
}

//LogProb will return the log probability of a gene code; background calls
//(code 0) contribute nothing.
func (cp CompositionParams) LogProb(gene int) float64 {
	if gene == 0 {
		return 0
	}
	return math.Log(cp.Probs[gene-1])
}

//Maximize will refresh the composition from the assigned gene codes with
//additive smoothing. Confidences, when supplied, act as fractional
//pseudo-counts instead of unit increments. Zero observations leave the
//estimate untouched.
func (cp *CompositionParams) Maximize(genes []int, confidences []float64) {
	g := len(cp.Probs)
	counts := make([]float64, g)
	total := 0.
	for i, gene := range genes {
		if gene == 0 {
			continue
		}
		w := 1.
		if confidences != nil {
			w = confidences[i]
		}
		counts[gene-1] += w
		total += w
	}
	if total == 0 {
		return
	}
	denom := total + cp.Smoothing*float64(g)
	for i := range counts {
		cp.Probs[i] = (counts[i] + cp.Smoothing) / denom
	}
}
