package game

import "math"

// RatingK is the Elo K-factor applied after every decided match
const RatingK = 32.0

// ExpectedScore is the Elo win expectation of a rating against an opponent
func ExpectedScore(rating, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-rating)/400))
}

// RatingsAfter returns the new ratings of a and b. scoreA is 1 for a win by a,
// 0 for a loss and 0.5 for a draw.
func RatingsAfter(a, b int, scoreA float64) (int, int) {
	ea := ExpectedScore(a, b)
	eb := ExpectedScore(b, a)
	na := float64(a) + RatingK*(scoreA-ea)
	nb := float64(b) + RatingK*((1-scoreA)-eb)
	return int(math.Round(na)), int(math.Round(nb))
}
