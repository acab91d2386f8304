package repository

import (
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// Score threshold constants (based on raw fzf scores)
const (
	ScoreThresholdStrict     = 70 // Only high quality matches
	ScoreThresholdNormal     = 50 // Balanced (default)
	ScoreThresholdPermissive = 30 // Include marginal matches
	ScoreThresholdNone       = 0  // Accept all matches
)

var algoInit sync.Once

// Matcher scores episode text against a query using the fzf algorithm.
type Matcher struct {
	mu            sync.Mutex // guards the shared slab
	caseSensitive bool
	minScore      int
	slab          *util.Slab
}

// NewMatcher creates a matcher with the balanced score threshold.
func NewMatcher() *Matcher {
	algoInit.Do(func() { algo.Init("default") })
	return &Matcher{
		minScore: ScoreThresholdNormal,
		slab:     util.MakeSlab(16384, 1024),
	}
}

// SetMinScore sets the minimum score threshold.
func (m *Matcher) SetMinScore(score int) {
	m.minScore = score
}

func (m *Matcher) score(query, text string) int {
	if query == "" {
		return 0
	}

	if !m.caseSensitive {
		text = strings.ToLower(text)
		query = strings.ToLower(query)
	}

	chars := util.ToChars([]byte(text))
	m.mu.Lock()
	result, _ := algo.FuzzyMatchV2(m.caseSensitive, false, true, &chars, []rune(query), false, m.slab)
	m.mu.Unlock()
	if result.Start < 0 {
		return -1
	}
	return result.Score
}

// MatchEpisode reports whether an episode matches the query, and with what
// score. The title is tried first, then the description.
func (m *Matcher) MatchEpisode(query, title, description string) (bool, int) {
	if query == "" {
		return true, 0
	}

	if score := m.score(query, title); score >= 0 {
		if m.minScore == 0 || score >= m.minScore {
			return true, score
		}
	}

	if score := m.score(query, description); score >= 0 {
		if m.minScore == 0 || score >= m.minScore {
			return true, score
		}
	}

	return false, -1
}
