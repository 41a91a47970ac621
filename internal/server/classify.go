package server

import (
	"strings"
	"unicode"

	"github.com/sfarrukhm/sentiment-mlops/internal/outcome"
)

var positiveWords = map[string]bool{
	"amazing": true, "beautiful": true, "beautifully": true, "best": true,
	"brilliant": true, "clever": true, "enjoyable": true, "entertaining": true,
	"fascinating": true, "fun": true, "funny": true, "good": true,
	"great": true, "gripping": true, "heartwarming": true, "hilarious": true,
	"incredible": true, "love": true, "loved": true, "masterpiece": true,
	"moving": true, "perfect": true, "perfectly": true, "recommended": true,
	"satisfying": true, "solid": true, "stunning": true, "sweet": true,
	"thrilling": true, "wonderful": true,
}

var negativeWords = map[string]bool{
	"awful": true, "bad": true, "badly": true, "boring": true,
	"confusing": true, "cringe": true, "dull": true, "flat": true,
	"flawed": true, "forced": true, "lifeless": true, "mediocre": true,
	"mess": true, "messy": true, "overlong": true, "poorly": true,
	"predictable": true, "slow": true, "terrible": true, "uninspired": true,
	"wooden": true, "worst": true,
}

// negators flip the polarity of the next sentiment word.
var negators = map[string]bool{
	"not": true, "no": true, "never": true, "nothing": true, "zero": true,
}

// Classify labels text by counting sentiment keywords. Ties are positive.
func Classify(text string) string {
	score := 0
	negate := false

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		w = strings.Trim(w, "'")
		switch {
		case negators[w]:
			negate = true
			continue
		case positiveWords[w]:
			score += polarity(1, negate)
		case negativeWords[w]:
			score += polarity(-1, negate)
		}
		negate = false
	}

	if score < 0 {
		return outcome.ResultNegative
	}
	return outcome.ResultPositive
}

func polarity(v int, negate bool) int {
	if negate {
		return -v
	}
	return v
}
