// Package sentiment scores text with a small polarity/subjectivity
// lexicon. Polarity lands in [-1, 1], subjectivity in [0, 1]; texts
// scoring above +0.1 are labeled positive, below -0.1 negative,
// otherwise neutral.
package sentiment

import (
	"math"
	"strings"
)

// Score is the result of analyzing one text.
type Score struct {
	Polarity     float64 `json:"polarity"`
	Subjectivity float64 `json:"subjectivity"`
	Label        string  `json:"label"`
}

type entry struct {
	polarity     float64
	subjectivity float64
}

var lexicon = map[string]entry{
	"good":       {0.7, 0.6},
	"great":      {0.8, 0.75},
	"excellent":  {1.0, 1.0},
	"amazing":    {0.6, 0.9},
	"wonderful":  {1.0, 1.0},
	"fantastic":  {0.9, 0.9},
	"love":       {0.5, 0.6},
	"loved":      {0.7, 0.8},
	"happy":      {0.8, 1.0},
	"glad":       {0.5, 1.0},
	"best":       {1.0, 0.3},
	"nice":       {0.6, 1.0},
	"perfect":    {1.0, 1.0},
	"pleasant":   {0.73, 0.76},
	"awesome":    {1.0, 1.0},
	"beautiful":  {0.85, 1.0},
	"helpful":    {0.5, 0.5},
	"thanks":     {0.2, 0.2},
	"thank":      {0.2, 0.2},
	"bad":        {-0.7, 0.67},
	"terrible":   {-1.0, 1.0},
	"awful":      {-1.0, 1.0},
	"horrible":   {-1.0, 1.0},
	"worst":      {-1.0, 0.3},
	"hate":       {-0.8, 0.9},
	"hated":      {-0.9, 0.7},
	"sad":        {-0.5, 1.0},
	"angry":      {-0.5, 1.0},
	"annoying":   {-0.6, 0.8},
	"broken":     {-0.4, 0.4},
	"useless":    {-0.5, 0.4},
	"wrong":      {-0.5, 0.5},
	"slow":       {-0.3, 0.4},
	"ugly":       {-0.7, 1.0},
	"poor":       {-0.4, 0.6},
	"painful":    {-0.7, 0.9},
	"fail":       {-0.5, 0.5},
	"failed":     {-0.5, 0.5},
	"crash":      {-0.6, 0.5},
	"unusable":   {-0.7, 0.6},
	"fine":       {0.2, 0.3},
	"okay":       {0.1, 0.4},
	"really":     {0, 0.2},
	"very":       {0, 0.3},
	"definitely": {0, 0.5},
	"maybe":      {0, 0.5},
	"probably":   {0, 0.5},
}

// Words like "not" flip the polarity of the token that follows them.
var negations = map[string]bool{
	"not":   true,
	"no":    true,
	"never": true,
	"isnt":  true,
	"dont":  true,
	"cant":  true,
	"wont":  true,
}

// Analyzer scores texts. It is stateless and safe for concurrent use.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Score analyzes text. Tokens missing from the lexicon contribute
// nothing; a text with no scored tokens is neutral with zero scores.
func (a *Analyzer) Score(text string) Score {
	tokens := tokenize(text)

	var polaritySum, subjectivitySum float64
	var matched int
	negate := false
	for _, tok := range tokens {
		if negations[tok] {
			negate = true
			continue
		}
		e, ok := lexicon[tok]
		if !ok {
			negate = false
			continue
		}
		p := e.polarity
		if negate {
			p = -p
			negate = false
		}
		polaritySum += p
		subjectivitySum += e.subjectivity
		matched++
	}

	s := Score{Label: "neutral"}
	if matched > 0 {
		s.Polarity = round3(polaritySum / float64(matched))
		s.Subjectivity = round3(subjectivitySum / float64(matched))
	}
	if s.Polarity > 0.1 {
		s.Label = "positive"
	} else if s.Polarity < -0.1 {
		s.Label = "negative"
	}
	return s
}

func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		}
		return true
	})
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
