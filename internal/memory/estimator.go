// ABOUTME: Token estimation and budget truncation for turn sequences
// ABOUTME: Keeps the most recent whole turns that fit the budget, never splitting a turn

package memory

import "unicode/utf8"

// charactersPerToken approximates BPE tokenizers on English prose.
const charactersPerToken = 4

// Estimator estimates the token cost of a turn.
type Estimator interface {
	EstimateTurn(turn Turn) int
}

// CharEstimator estimates tokens from the rune count of the turn text.
type CharEstimator struct{}

// EstimateTurn returns ceil(runes/4), and at least 1 so that every turn
// consumes budget.
func (CharEstimator) EstimateTurn(turn Turn) int {
	runes := utf8.RuneCountInString(turn.Text)
	tokens := (runes + charactersPerToken - 1) / charactersPerToken
	if tokens < 1 {
		return 1
	}
	return tokens
}

// EstimateTurns sums the estimate over turns.
func EstimateTurns(est Estimator, turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += est.EstimateTurn(t)
	}
	return total
}

// Truncate drops turns from the oldest end until the remainder fits budget.
// The kept turns are the longest suffix of turns whose estimate is within
// budget; if even the newest turn alone does not fit, the result is empty.
// A budget <= 0 disables truncation.
func Truncate(est Estimator, turns []Turn, budget int) []Turn {
	if budget <= 0 {
		return turns
	}

	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := est.EstimateTurn(turns[i])
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return turns[start:]
}
