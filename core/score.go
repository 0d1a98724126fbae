package core

// ScoreWeights defines the scoring curve every platform shares:
// a linear term for solved volume, a quadratic term for rating above a
// platform-specific floor (clamped at zero below the floor or when the
// platform has no rating), and a linear term for contest participation.
type ScoreWeights struct {
	// Volume is the points awarded per solved problem.
	Volume float64
	// RatingFloor is the rating below which the rating term contributes
	// nothing.
	RatingFloor float64
	// RatingDivisor dampens the quadratic rating term; zero disables it.
	RatingDivisor float64
	// Contest is the points awarded per contest participated.
	Contest float64
}

// Score computes the platform score. The result is never negative.
func (w ScoreWeights) Score(solved int64, rating float64, contests int64) float64 {
	score := w.Volume * float64(solved)
	if w.RatingDivisor > 0 && rating > w.RatingFloor {
		d := rating - w.RatingFloor
		score += d * d / w.RatingDivisor
	}
	score += w.Contest * float64(contests)
	if score < 0 {
		return 0
	}
	return score
}
