package ensemble

import (
	"encoding/json"
	"fmt"
	"time"
)

// Actions in class-index order. The {0,1,2} ↔ {SELL,HOLD,BUY} mapping is
// a bijection relied on by the serving layer.
const (
	ActionSell = "SELL"
	ActionHold = "HOLD"
	ActionBuy  = "BUY"
)

var actionByClass = [NumClasses]string{ActionSell, ActionHold, ActionBuy}

// ActionFromClass maps a class index to its action label.
func ActionFromClass(class int) (string, error) {
	if class < 0 || class >= NumClasses {
		return "", fmt.Errorf("class index %d out of range", class)
	}
	return actionByClass[class], nil
}

// ClassFromAction maps an action label back to its class index.
func ClassFromAction(action string) (int, error) {
	for i, a := range actionByClass {
		if a == action {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", action)
}

// DecisionDetails is the per-method breakdown attached to a decision.
// Field names are a compatibility contract with the serving layer.
type DecisionDetails struct {
	Bagging   string  `json:"bagging"`
	Boosting  string  `json:"boosting"`
	Stacking  string  `json:"stacking"`
	Timestamp string  `json:"timestamp"`
	Price     float64 `json:"price"`
}

// Decision is the externally visible decision record. Confidence and
// AgreementRate are percentages. RawConfidence and Floored surface the
// calibrator's numeric adjustments instead of hiding them.
type Decision struct {
	Symbol            string          `json:"symbol"`
	Action            string          `json:"action"`
	Confidence        float64         `json:"confidence"`
	Delta             float64         `json:"delta"`
	EnsembleAgreement bool            `json:"ensemble_agreement"`
	AgreementRate     float64         `json:"agreement_rate"`
	Details           DecisionDetails `json:"details"`
	Floored           bool            `json:"floored"`
	RawConfidence     float64         `json:"raw_confidence"`
}

// AssembleDecision maps a calibrated result into the wire decision.
func AssembleDecision(symbol string, ts time.Time, price float64, res *AggregateResult, rec AgreementRecord, score ConfidenceScore) (*Decision, error) {
	action, err := ActionFromClass(score.Class)
	if err != nil {
		return nil, err
	}
	bagging, err := ActionFromClass(rec.BaggingClass)
	if err != nil {
		return nil, err
	}
	boosting, err := ActionFromClass(rec.BoostingClass)
	if err != nil {
		return nil, err
	}
	stacking, err := ActionFromClass(rec.StackingClass)
	if err != nil {
		return nil, err
	}

	return &Decision{
		Symbol:            symbol,
		Action:            action,
		Confidence:        score.Value * 100,
		Delta:             res.Final.Delta,
		EnsembleAgreement: rec.Rate == 1.0,
		AgreementRate:     rec.Rate * 100,
		Details: DecisionDetails{
			Bagging:   bagging,
			Boosting:  boosting,
			Stacking:  stacking,
			Timestamp: ts.Format(time.RFC3339),
			Price:     price,
		},
		Floored:       score.Floored,
		RawConfidence: score.Raw * 100,
	}, nil
}

// BatchEntry is one slot of a batch prediction result. Exactly one of
// Decision or Err is set; failed symbols serialize as {symbol, error}
// and never abort the rest of the batch.
type BatchEntry struct {
	Symbol   string
	Decision *Decision
	Err      error
}

// MarshalJSON renders either the decision or the error record.
func (e BatchEntry) MarshalJSON() ([]byte, error) {
	if e.Err != nil {
		return json.Marshal(struct {
			Symbol string `json:"symbol"`
			Error  string `json:"error"`
		}{Symbol: e.Symbol, Error: e.Err.Error()})
	}
	return json.Marshal(e.Decision)
}
