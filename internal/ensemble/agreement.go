package ensemble

// AgreementRecord is the derived inter-method agreement for one decision.
// Rate is the fraction of the three method argmaxes matching the final
// argmax, so it is always one of {0, 1/3, 2/3, 1}. It is not persisted.
type AgreementRecord struct {
	BaggingClass  int
	BoostingClass int
	StackingClass int
	FinalClass    int
	Rate          float64
}

// ScoreAgreement compares each aggregation method's most likely class
// against the final decision's class. Argmax ties resolve to the lowest
// class index (see Argmax), which makes agreement counting stable.
func ScoreAgreement(res *AggregateResult) AgreementRecord {
	rec := AgreementRecord{
		BaggingClass:  Argmax(res.Bagging.Probs),
		BoostingClass: Argmax(res.Boosting.Probs),
		StackingClass: Argmax(res.Stacking.Probs),
		FinalClass:    Argmax(res.Final.Probs),
	}

	matches := 0
	for _, class := range [3]int{rec.BaggingClass, rec.BoostingClass, rec.StackingClass} {
		if class == rec.FinalClass {
			matches++
		}
	}
	rec.Rate = float64(matches) / 3.0
	return rec
}
