package matcher

import (
	"math"
	"strings"
)

// Score bands
const (
	ScoreExact       = 100
	ScoreSameDomain  = 95
	ScoreContains    = 90
	MinAcceptedScore = 30
)

// Candidate is one search hit to compare against the target company.
type Candidate struct {
	Name    string
	Website string
}

// Match is the accepted candidate and its score.
type Match struct {
	Index int
	Score int
}

// Score compares a target company with a candidate. Higher is better, 0 means
// unrelated.
func Score(targetName, targetWebsite string, c Candidate) int {
	if c.Name == "" {
		return 0
	}

	target := NormalizeName(targetName)
	candidate := NormalizeName(c.Name)
	if target == "" || candidate == "" {
		return 0
	}

	if target == candidate {
		return ScoreExact
	}

	if containsEither(target, candidate) {
		return ScoreContains
	}

	if td, cd := Domain(targetWebsite), Domain(c.Website); td != "" && td == cd {
		return ScoreSameDomain
	}

	return wordOverlapScore(target, candidate)
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func wordOverlapScore(target, candidate string) int {
	tw := significantWords(target)
	cw := significantWords(candidate)
	if len(tw) == 0 || len(cw) == 0 {
		return 0
	}

	common := 0
	for w := range tw {
		if _, ok := cw[w]; ok {
			common++
		}
	}
	if common == 0 {
		return 0
	}

	overlap := float64(common) / float64(min(len(tw), len(cw)))
	switch {
	case overlap >= 0.5:
		return int(math.Floor(70 + overlap*20))
	case overlap >= 0.3:
		return int(math.Floor(50 + overlap*20))
	}
	return 0
}

// BestMatch returns the highest scoring candidate if it reaches
// MinAcceptedScore. Ties keep the earliest candidate.
func BestMatch(targetName, targetWebsite string, candidates []Candidate) (Match, bool) {
	best := Match{Index: -1}
	for i, c := range candidates {
		s := Score(targetName, targetWebsite, c)
		if s > best.Score {
			best = Match{Index: i, Score: s}
		}
	}
	if best.Index < 0 || best.Score < MinAcceptedScore {
		return Match{Index: -1}, false
	}
	return best, true
}
