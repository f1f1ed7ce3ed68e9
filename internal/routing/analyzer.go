package routing

import (
	"regexp"
	"strings"

	"github.com/florelia/sisters/internal/persona"
)

// Topic vocabulary per persona. Matching is case-insensitive on whole
// words; multi-word phrases match as literal sequences.
var topicKeywords = map[persona.Persona][]string{
	persona.Botan: {
		// Streaming & content
		"stream", "streaming", "twitch", "youtube", "content", "creator",
		"video", "vtuber", "virtual", "avatar",
		// Social media
		"twitter", "instagram", "tiktok", "social media", "viral", "trending",
		"followers", "likes", "post", "feed",
		// Entertainment
		"movie", "show", "series", "netflix", "anime", "manga",
		"celebrity", "actor", "actress", "entertainment",
		// Pop culture
		"meme", "trend", "popular", "culture", "fashion", "style",
		// Events & social
		"party", "event", "meet", "hangout", "friend", "social",
	},
	persona.Kasho: {
		// Music
		"music", "song", "album", "artist", "band", "guitar", "piano",
		"drum", "instrument", "melody", "rhythm", "chord", "note",
		"compose", "production", "record", "studio", "beat",
		// Career & advice
		"career", "job", "work", "professional", "advice", "help",
		"decision", "choose", "problem", "solve", "relationship",
		"love", "dating", "breakup", "friend", "family",
		// Life planning
		"goal", "plan", "future", "grow", "improve", "develop",
		"success", "balance", "stress", "worry", "concern",
	},
	persona.Yuri: {
		// Literature
		"book", "read", "novel", "story", "author", "writer", "literature",
		"fiction", "poetry", "poem", "write", "writing",
		// Sci-fi & fantasy
		"science fiction", "sci-fi", "fantasy", "dragon", "magic",
		"space", "alien", "future", "dystopia", "utopia",
		// Philosophy & deep topics
		"philosophy", "meaning", "existence", "why", "purpose",
		"think", "thought", "idea", "concept", "theory",
		// Creative & subculture
		"creative", "imagination", "indie", "underground", "alternative",
		"art", "artistic", "experimental", "unique", "weird",
	},
}

// High-salience terms that add a flat bonus on top of the normalized
// keyword score. Matched by substring containment, not whole words:
// "help me" and "what should i" span word boundaries.
var bonusKeywords = map[persona.Persona][]string{
	persona.Botan: {"vtuber", "streaming", "viral", "trending"},
	persona.Kasho: {"music", "advice", "help me", "what should i"},
	persona.Yuri:  {"book", "philosophy", "why", "meaning"},
}

const (
	keywordBonus       = 0.5
	interrogativeBonus = 0.3
)

// greetings that may precede a vocative ("Hey Botan, ...").
var greetings = map[string]bool{"hey": true, "hi": true, "hello": true}

// Decision is the routing outcome for one inbound message. Scores is the
// full per-persona map for observability.
type Decision struct {
	Persona  persona.Persona
	Switched bool
	Vocative bool
	Scores   map[persona.Persona]float64
}

// Analyzer scores messages against each persona's topic vocabulary and
// applies the switch policy. It is a pure function over its inputs: no
// I/O, no failure modes.
type Analyzer struct {
	patterns  map[persona.Persona]*regexp.Regexp
	threshold float64
}

// NewAnalyzer compiles the keyword tables. threshold is the hysteresis
// margin the best score must exceed over the current persona's score to
// trigger a switch.
func NewAnalyzer(threshold float64) *Analyzer {
	patterns := make(map[persona.Persona]*regexp.Regexp, len(topicKeywords))
	for p, keywords := range topicKeywords {
		patterns[p] = compilePattern(keywords)
	}
	return &Analyzer{patterns: patterns, threshold: threshold}
}

func compilePattern(keywords []string) *regexp.Regexp {
	escaped := make([]string, len(keywords))
	for i, kw := range keywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// keywordScores counts whole-word keyword occurrences per persona,
// normalized by the message's word count so longer messages gain no bias.
func (a *Analyzer) keywordScores(message string) map[persona.Persona]float64 {
	wordCount := len(strings.Fields(message))
	if wordCount == 0 {
		wordCount = 1
	}
	scores := make(map[persona.Persona]float64, len(a.patterns))
	for p, pattern := range a.patterns {
		matches := pattern.FindAllString(message, -1)
		scores[p] = float64(len(matches)) / float64(wordCount)
	}
	return scores
}

// bonusScores computes the additive bonus stage. Applied after
// normalization, so bonuses are immune to message-length effects.
func (a *Analyzer) bonusScores(message string) map[persona.Persona]float64 {
	lower := strings.ToLower(message)
	bonuses := make(map[persona.Persona]float64, len(bonusKeywords))
	for p, words := range bonusKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				bonuses[p] += keywordBonus
				break
			}
		}
	}
	if strings.HasPrefix(lower, "why") {
		bonuses[persona.Yuri] += interrogativeBonus
	} else if strings.HasPrefix(lower, "how") {
		for _, w := range []string{"should", "can i", "do i"} {
			if strings.Contains(lower, w) {
				bonuses[persona.Kasho] += interrogativeBonus
				break
			}
		}
	}
	return bonuses
}

// Analyze returns the combined per-persona score map for a message.
func (a *Analyzer) Analyze(message string) map[persona.Persona]float64 {
	scores := a.keywordScores(message)
	for p, bonus := range a.bonusScores(message) {
		scores[p] += bonus
	}
	return scores
}

// Select picks the persona that should answer the message. A vocative
// (direct address at the start of the message) wins unconditionally;
// otherwise the best-scoring persona must beat the current one by
// strictly more than the threshold, or continuity keeps the current
// persona.
func (a *Analyzer) Select(message string, current persona.Persona) Decision {
	if !persona.Valid(current) {
		current = persona.Default
	}
	scores := a.Analyze(message)

	if p, ok := directAddress(message); ok {
		return Decision{Persona: p, Switched: p != current, Vocative: true, Scores: scores}
	}

	best, bestScore := current, scores[current]
	for _, p := range persona.All() {
		if scores[p] > bestScore {
			best, bestScore = p, scores[p]
		}
	}
	if best != current && bestScore > scores[current]+a.threshold {
		return Decision{Persona: best, Switched: true, Scores: scores}
	}
	return Decision{Persona: current, Scores: scores}
}

// directAddress detects a persona named as a vocative: the persona name
// as the leading token, optionally preceded by a greeting word. A name
// mentioned mid-sentence is not an address.
func directAddress(message string) (persona.Persona, bool) {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return "", false
	}
	first := strings.Trim(fields[0], ",.!?:;")
	if p, ok := persona.Parse(first); ok {
		return p, true
	}
	if greetings[strings.ToLower(first)] && len(fields) > 1 {
		second := strings.Trim(fields[1], ",.!?:;")
		if p, ok := persona.Parse(second); ok {
			return p, true
		}
	}
	return "", false
}
