// Package rating implements the post-game Elo update. Teams are rated by
// the arithmetic mean of their members; deltas are applied per user.
package rating

import "math"

// KFactor is the classical Elo K used for every mode.
const KFactor = 32

// Expected returns the expected score of a player rated self against an
// opposing team average.
func Expected(self, oppAvg float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (oppAvg-self)/400.0))
}

// TeamAverage returns the arithmetic mean of a team's ratings. An empty
// team averages to zero.
func TeamAverage(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

// Update computes per-user rating deltas for both teams after a game.
// aWon selects the winner; identical inputs yield identical outputs.
// Resulting ratings never drop below zero: a delta that would cross zero
// is truncated at the player's current rating.
func Update(scoresA, scoresB []int, aWon bool) (deltasA, deltasB []int) {
	avgA := TeamAverage(scoresA)
	avgB := TeamAverage(scoresB)

	sA, sB := 0.0, 1.0
	if aWon {
		sA, sB = 1.0, 0.0
	}

	deltasA = make([]int, len(scoresA))
	for i, r := range scoresA {
		d := int(math.Round(KFactor * (sA - Expected(float64(r), avgB))))
		if r+d < 0 {
			d = -r
		}
		deltasA[i] = d
	}
	deltasB = make([]int, len(scoresB))
	for i, r := range scoresB {
		d := int(math.Round(KFactor * (sB - Expected(float64(r), avgA))))
		if r+d < 0 {
			d = -r
		}
		deltasB[i] = d
	}
	return deltasA, deltasB
}
