// Package recency rescales semantic scores by document age. Each data type
// carries its own decay curve reflecting how quickly that content goes
// stale: a live-system snapshot is worthless after a day or two, a learning
// note stays relevant for months.
package recency

import (
	"math"
	"time"

	"github.com/devrecall/devrecall/internal/record"
)

// Knob is the caller-facing intensity setting. It rescales decay by raising
// it to a power; None disables decay entirely while freshness boosts still
// apply.
type Knob string

const (
	KnobNone     Knob = "none"
	KnobLight    Knob = "light"
	KnobNormal   Knob = "normal"
	KnobHeavy    Knob = "heavy"
	KnobCritical Knob = "critical"
)

// knobPower maps a knob to the exponent applied to the decay multiplier.
var knobPower = map[Knob]float64{
	KnobNone:     0,
	KnobLight:    0.5,
	KnobNormal:   1,
	KnobHeavy:    1.5,
	KnobCritical: 2,
}

// ValidKnob reports whether k is a recognized setting.
func ValidKnob(k Knob) bool {
	_, ok := knobPower[k]
	return ok
}

type curve int

const (
	curveExponential curve = iota
	curveLinear
	curveGaussian
	curveStep
)

// profile describes one data type's aging behavior. halfLifeDays doubles as
// sigma for gaussian curves and as the threshold age for step curves.
type profile struct {
	curve        curve
	halfLifeDays float64
	floor        float64

	// stepMultiplier is the reduced multiplier past the threshold,
	// step curves only.
	stepMultiplier float64

	// boostWindowDays and boostFactor lift documents younger than the
	// window; zero window means no boost for the type.
	boostWindowDays float64
	boostFactor     float64
}

var profiles = map[record.DataType]profile{
	record.TypeSystemSnapshot: {curve: curveExponential, halfLifeDays: 1, floor: 0.05},
	record.TypeMetric:         {curve: curveExponential, halfLifeDays: 2, floor: 0.05},
	record.TypeError:          {curve: curveExponential, halfLifeDays: 7, floor: 0.1, boostWindowDays: 1, boostFactor: 1.25},
	record.TypeSession:        {curve: curveExponential, halfLifeDays: 14, floor: 0.15},
	record.TypeDeployment:     {curve: curveStep, halfLifeDays: 30, floor: 0.2, stepMultiplier: 0.5, boostWindowDays: 2, boostFactor: 1.15},
	record.TypeLearning:       {curve: curveExponential, halfLifeDays: 60, floor: 0.3},
	record.TypeCode:           {curve: curveLinear, halfLifeDays: 90, floor: 0.25},
	record.TypeConfig:         {curve: curveGaussian, halfLifeDays: 45, floor: 0.2},
	record.TypeGeneric:        {curve: curveExponential, halfLifeDays: 30, floor: 0.2},
}

// Weighted is the outcome of weighting a single score.
type Weighted struct {
	FinalScore float64
	Decay      float64
	Boost      float64
	AgeDays    float64
}

// Engine applies recency weighting. The zero value is not usable; construct
// with New.
type Engine struct {
	defaultKnob Knob
	now         func() time.Time
}

// New creates an Engine. defaultKnob is used when a caller passes an empty
// knob; an unrecognized default falls back to normal.
func New(defaultKnob Knob) *Engine {
	if !ValidKnob(defaultKnob) {
		defaultKnob = KnobNormal
	}
	return &Engine{defaultKnob: defaultKnob, now: time.Now}
}

// Weight computes the recency-adjusted score for one document.
// final = semantic × decay × boost. A zero createdAt is treated as brand
// new, leaving the score untouched.
func (e *Engine) Weight(semanticScore float64, createdAt time.Time, dataType record.DataType, knob Knob) Weighted {
	if knob == "" || !ValidKnob(knob) {
		knob = e.defaultKnob
	}
	p, ok := profiles[dataType]
	if !ok {
		p = profiles[record.TypeGeneric]
	}

	ageDays := 0.0
	if !createdAt.IsZero() {
		if age := e.now().Sub(createdAt); age > 0 {
			ageDays = age.Hours() / 24
		}
	}

	decay := rawDecay(p, ageDays)
	if pow := knobPower[knob]; pow != 1 {
		decay = math.Pow(decay, pow)
	}
	if decay < p.floor {
		decay = p.floor
	}

	boost := 1.0
	if p.boostWindowDays > 0 && ageDays < p.boostWindowDays {
		boost = p.boostFactor
	}

	return Weighted{
		FinalScore: semanticScore * decay * boost,
		Decay:      decay,
		Boost:      boost,
		AgeDays:    ageDays,
	}
}

// rawDecay evaluates the profile's curve before knob scaling and flooring.
// Every curve satisfies rawDecay(p, 0) == 1 and is non-increasing in age.
func rawDecay(p profile, ageDays float64) float64 {
	switch p.curve {
	case curveLinear:
		d := 1 - ageDays/(2*p.halfLifeDays)
		if d < 0 {
			return 0
		}
		return d
	case curveGaussian:
		sigma := p.halfLifeDays
		return math.Exp(-(ageDays * ageDays) / (2 * sigma * sigma))
	case curveStep:
		if ageDays <= p.halfLifeDays {
			return 1
		}
		return p.stepMultiplier
	default:
		return math.Exp(-math.Ln2 * ageDays / p.halfLifeDays)
	}
}
