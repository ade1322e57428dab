package ensemble

import (
	"fmt"
	"math"
)

// BoostPolicy adjusts a base confidence using the ensemble agreement
// rate. Two divergent formulas coexist in the system; they are exposed
// as distinct, named policies and must not be merged. Which one is
// canonical is a product decision, so both stay reproducible.
type BoostPolicy interface {
	Name() string
	// Cap is the hard upper bound enforced on the policy's output.
	Cap() float64
	// Boost returns the adjusted confidence before capping, so the raw
	// value stays available for diagnostics. Callers apply Cap.
	Boost(baseConfidence, agreementRate float64, nModels int) float64
}

// MultiplicativeBoost scales confidence by agreement-driven factors:
// ×(1+(rate−0.5)·0.4), an extra ×1.6 on unanimous agreement and ×1.1
// at rate ≥ 0.8, capped at 0.95.
type MultiplicativeBoost struct{}

func (MultiplicativeBoost) Name() string { return "multiplicative" }
func (MultiplicativeBoost) Cap() float64 { return 0.95 }

func (m MultiplicativeBoost) Boost(baseConfidence, agreementRate float64, _ int) float64 {
	factor := 1.0 + (agreementRate-0.5)*0.4
	if agreementRate == 1.0 {
		factor *= 1.6
	}

	boosted := baseConfidence * factor
	if agreementRate >= 0.8 {
		boosted *= 1.1
	}
	return boosted
}

// AdditiveBoost adds an agreement bonus of up to 0.3 plus a model-count
// bonus of up to 0.1, capped at 0.99.
type AdditiveBoost struct{}

func (AdditiveBoost) Name() string { return "additive" }
func (AdditiveBoost) Cap() float64 { return 0.99 }

func (a AdditiveBoost) Boost(baseConfidence, agreementRate float64, nModels int) float64 {
	return baseConfidence + agreementRate*0.3 + math.Min(float64(nModels)/10.0, 0.1)
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (BoostPolicy, error) {
	switch name {
	case "multiplicative", "":
		return MultiplicativeBoost{}, nil
	case "additive":
		return AdditiveBoost{}, nil
	default:
		return nil, fmt.Errorf("unknown boost policy %q", name)
	}
}

// ConfidenceScore is a bounded confidence value with its diagnostics:
// Raw is the boosted value before capping/flooring, and Floored marks a
// minimum-confidence override that does not reflect genuine predictor
// certainty. Both travel with the decision rather than being hidden.
type ConfidenceScore struct {
	Value   float64
	Raw     float64
	Floored bool
	Class   int
	Probs   [NumClasses]float64
}

// Calibrator turns raw final probabilities into a calibrated confidence.
// The pipeline is isotonic recalibration (no-op until fitted), then
// temperature scaling, then the configured agreement boost, then the
// minimum-confidence floor.
type Calibrator struct {
	Temperature   float64
	Policy        BoostPolicy
	MinConfidence float64
	Isotonic      *Isotonic
}

// NewCalibrator builds a calibrator with the given temperature and
// policy. MinConfidence ≤ 0 disables the floor.
func NewCalibrator(temperature float64, policy BoostPolicy, minConfidence float64) *Calibrator {
	if temperature <= 0 {
		temperature = 1.5
	}
	if policy == nil {
		policy = MultiplicativeBoost{}
	}
	return &Calibrator{
		Temperature:   temperature,
		Policy:        policy,
		MinConfidence: minConfidence,
	}
}

// TemperatureScale applies numerically stable softmax(logits/T). T < 1
// sharpens the distribution, T > 1 flattens it.
func TemperatureScale(logits [NumClasses]float64, temperature float64) [NumClasses]float64 {
	max := logits[0] / temperature
	var scaled [NumClasses]float64
	for i, l := range logits {
		scaled[i] = l / temperature
		if scaled[i] > max {
			max = scaled[i]
		}
	}

	var sum float64
	for i := range scaled {
		scaled[i] = math.Exp(scaled[i] - max)
		sum += scaled[i]
	}
	for i := range scaled {
		scaled[i] /= sum
	}
	return scaled
}

// Calibrate produces the confidence score for a final probability triple
// given the agreement rate and base model count.
func (c *Calibrator) Calibrate(probs [NumClasses]float64, agreementRate float64, nModels int) ConfidenceScore {
	if c.Isotonic != nil {
		probs = c.Isotonic.Apply(probs)
	}

	var logits [NumClasses]float64
	for i, p := range probs {
		logits[i] = math.Log(p + 1e-10)
	}
	scaled := TemperatureScale(logits, c.Temperature)

	class := Argmax(scaled)
	base := scaled[class]

	// Raw keeps the pre-cap value for diagnostics.
	raw := c.Policy.Boost(base, agreementRate, nModels)
	boosted := math.Min(raw, c.Policy.Cap())

	score := ConfidenceScore{
		Value: boosted,
		Raw:   raw,
		Class: class,
		Probs: scaled,
	}

	// The floor only fires with corroborating agreement; at 1/3 it never
	// triggers regardless of how low the confidence is.
	if c.MinConfidence > 0 && boosted < c.MinConfidence && agreementRate >= 0.67 {
		score.Value = c.MinConfidence + 0.05
		score.Floored = true
	}

	return score
}
