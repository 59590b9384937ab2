package molseg

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

//Component is one mixture cluster: a candidate cell with a multivariate
//normal over molecule positions and a multinomial over gene identity. A
//component owns deep copies of all of its priors; no prior state is shared
//between components. Components with CanBeDropped set are removed by the
//fitting loop once NSamples falls to zero; sentinel components (the birth
//sampler) persist regardless of occupancy.
type Component struct {
	Position     MvNormalParams
	Composition  CompositionParams
	Shape        ShapePrior
	Center       *CenterPrior
	NSamples     int
	PriorWeight  float64
	CanBeDropped bool
}

//NewComponent will create a component from its initial position estimate and
//priors. The composition starts uniform over the gene range.
func NewComponent(pos MvNormalParams, nGenes int, shape ShapePrior, center *CenterPrior, priorWeight, smoothing float64, canBeDropped bool) *Component {
	c := new(Component)
	c.Position = pos.Clone()
	c.Composition = NewCompositionParams(nGenes, smoothing)
	c.Shape = shape // value copy, independent prior bookkeeping per component
	if center != nil {
		own := *center
		c.Center = &own
	}
	c.PriorWeight = priorWeight
	c.CanBeDropped = canBeDropped
	return c
}

//Maximize will refresh both parameter estimates from the molecules currently
//assigned to the component and record the sample count. With zero assigned
//molecules both estimates degenerate to the prior and are left untouched.
func (c *Component) Maximize(xs, ys []float64, genes []int, confidences []float64) {
	c.Position.Maximize(xs, ys, c.Shape, c.Center, c.PriorWeight)
	c.Composition.Maximize(genes, confidences)
	c.NSamples = len(xs)
}

//LogDensity will score one molecule against the component: position log
//density plus gene composition log probability.
func (c *Component) LogDensity(x, y float64, gene int) float64 {
	return c.Position.LogPdf(x, y) + c.Composition.LogProb(gene)
}

//SampleFrom will draw parameters for a freshly born component seeded at a
//molecule position. The mean is the seed point; each axis variance is drawn
//from the scaled inverse-chi-squared implied by the birth component's shape
//prior, so new cells start with plausible shapes.
func (c *Component) SampleFrom(x, y float64, rnd *rand.Rand) *Component {
	df := float64(c.Shape.DegFreedom)
	if df < 3 {
		df = 3
	}
	chi := distuv.ChiSquared{K: df, Src: rnd}
	vxx := c.Shape.PriorVars[0] * df / chi.Rand()
	vyy := c.Shape.PriorVars[1] * df / chi.Rand()
	pos := NewMvNormalParams(x, y, diagSym(vxx, vyy))
	born := NewComponent(pos, len(c.Composition.Probs), c.Shape, nil, c.PriorWeight, c.Composition.Smoothing, true)
	return born
}
