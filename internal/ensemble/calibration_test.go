package ensemble

import (
	"math"
	"testing"
)

func TestTemperatureScaleSumsToOne(t *testing.T) {
	for _, temp := range []float64{0.5, 1.0, 1.5, 3.0} {
		probs := TemperatureScale([NumClasses]float64{2.0, 0.5, -1.0}, temp)
		var sum float64
		for _, p := range probs {
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("T=%f: probs sum to %f", temp, sum)
		}
	}
}

func TestTemperatureScaleFlattens(t *testing.T) {
	logits := [NumClasses]float64{2.0, 0.5, -1.0}
	sharp := TemperatureScale(logits, 0.5)
	flat := TemperatureScale(logits, 3.0)
	if sharp[0] <= flat[0] {
		t.Errorf("low temperature should sharpen: sharp max %f, flat max %f", sharp[0], flat[0])
	}
}

func TestTemperatureScalePreservesArgmax(t *testing.T) {
	logits := [NumClasses]float64{-0.3, 1.2, 0.4}
	for _, temp := range []float64{0.5, 1.5, 5.0} {
		if got := Argmax(TemperatureScale(logits, temp)); got != 1 {
			t.Errorf("T=%f: argmax = %d, want 1", temp, got)
		}
	}
}

func TestMultiplicativeBoostMonotonicInAgreement(t *testing.T) {
	policy := MultiplicativeBoost{}
	rates := []float64{0, 1.0 / 3, 2.0 / 3, 0.8, 1.0}
	prev := -1.0
	for _, r := range rates {
		got := policy.Boost(0.5, r, 3)
		if got <= prev {
			t.Errorf("boost at rate %f = %f, not above %f", r, got, prev)
		}
		prev = got
	}
}

func TestMultiplicativeBoostFactors(t *testing.T) {
	policy := MultiplicativeBoost{}

	// rate 0.5 is the neutral point.
	if got := policy.Boost(0.6, 0.5, 3); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("neutral boost = %f, want 0.6", got)
	}
	// Unanimity stacks the 1.6 and 1.1 multipliers on the linear factor.
	want := 0.4 * (1 + 0.5*0.4) * 1.6 * 1.1
	if got := policy.Boost(0.4, 1.0, 3); math.Abs(got-want) > 1e-9 {
		t.Errorf("unanimous boost = %f, want %f", got, want)
	}
	// The 1.1 multiplier fires at 0.8 but not below.
	at08 := policy.Boost(0.4, 0.8, 3)
	below := policy.Boost(0.4, 0.79, 3)
	if at08/below < 1.1 {
		t.Errorf("0.8 threshold multiplier missing: %f vs %f", at08, below)
	}
}

func TestAdditiveBoost(t *testing.T) {
	policy := AdditiveBoost{}

	// The model-count bonus min(n/10, 0.1) saturates from one model up.
	if got := policy.Boost(0.5, 0, 3); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("3-model bonus = %f, want 0.6", got)
	}
	if got := policy.Boost(0.5, 0, 25); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("25-model bonus = %f, want 0.6", got)
	}
	if got := policy.Boost(0.5, 0, 0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("0-model bonus = %f, want 0.5", got)
	}
	if got := policy.Boost(0.5, 1.0, 10); math.Abs(got-(0.5+0.3+0.1)) > 1e-9 {
		t.Errorf("full additive boost = %f, want 0.9", got)
	}
}

func TestCalibrateCapsValueKeepsRaw(t *testing.T) {
	cal := NewCalibrator(1.5, MultiplicativeBoost{}, 0)

	// Near-certain probabilities with unanimous agreement drive the raw
	// boost well past the cap.
	score := cal.Calibrate([NumClasses]float64{0.98, 0.01, 0.01}, 1.0, 3)
	if score.Value > 0.95+1e-9 {
		t.Errorf("multiplicative value = %f, above 0.95 cap", score.Value)
	}
	if score.Raw <= score.Value {
		t.Errorf("raw %f should exceed capped value %f", score.Raw, score.Value)
	}

	cal = NewCalibrator(1.5, AdditiveBoost{}, 0)
	score = cal.Calibrate([NumClasses]float64{0.98, 0.01, 0.01}, 1.0, 10)
	if score.Value > 0.99+1e-9 {
		t.Errorf("additive value = %f, above 0.99 cap", score.Value)
	}
}

func TestCalibrateFloor(t *testing.T) {
	cal := NewCalibrator(1.5, MultiplicativeBoost{}, 0.75)

	// Flat probabilities stay under the minimum even with the unanimity
	// multipliers, so the floor fires.
	flat := [NumClasses]float64{0.34, 0.33, 0.33}
	score := cal.Calibrate(flat, 1.0, 3)
	if !score.Floored {
		t.Fatal("expected floor to fire at unanimous agreement")
	}
	if math.Abs(score.Value-0.8) > 1e-9 {
		t.Errorf("floored value = %f, want 0.8", score.Value)
	}
	if score.Raw >= 0.75 {
		t.Errorf("raw %f should reflect the unfloored confidence", score.Raw)
	}

	// 2/3 sits just under the 0.67 agreement threshold; the floor stays
	// off no matter how low the confidence is.
	score = cal.Calibrate(flat, 2.0/3, 3)
	if score.Floored {
		t.Error("floor must not fire at 2/3 agreement")
	}

	// At 1/3 agreement the floor never fires.
	score = cal.Calibrate(flat, 1.0/3, 3)
	if score.Floored {
		t.Error("floor must not fire at 1/3 agreement")
	}

	// Disabled floor.
	cal = NewCalibrator(1.5, MultiplicativeBoost{}, 0)
	score = cal.Calibrate(flat, 1.0, 3)
	if score.Floored {
		t.Error("floor must not fire when disabled")
	}
}

func TestCalibrateClassMatchesProbArgmax(t *testing.T) {
	cal := NewCalibrator(1.5, MultiplicativeBoost{}, 0)
	score := cal.Calibrate([NumClasses]float64{0.2, 0.3, 0.5}, 1.0, 3)
	if score.Class != ClassBuy {
		t.Errorf("class = %d, want %d", score.Class, ClassBuy)
	}
	if got := Argmax(score.Probs); got != ClassBuy {
		t.Errorf("scaled probs argmax = %d, want %d", got, ClassBuy)
	}
}

func TestPolicyByName(t *testing.T) {
	for name, want := range map[string]string{
		"":               "multiplicative",
		"multiplicative": "multiplicative",
		"additive":       "additive",
	} {
		p, err := PolicyByName(name)
		if err != nil {
			t.Fatalf("PolicyByName(%q) failed: %v", name, err)
		}
		if p.Name() != want {
			t.Errorf("PolicyByName(%q) = %s, want %s", name, p.Name(), want)
		}
	}
	if _, err := PolicyByName("quadratic"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
