package assembler

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// subScores holds the five scoring dimensions computed per chunk before
// they are combined with the budget weights.
type subScores struct {
	semantic       float64
	conversational float64
	temporal       float64
	domain         float64
	authority      float64
	diversity      float64
}

// scoreChunks computes the combined relevance for every chunk and returns a
// copy sorted by relevance descending. Input order is never mutated.
func (a *Assembler) scoreChunks(chunks []Chunk, qc QueryContext, w Weights, now time.Time) []Chunk {
	queryWords := tokenize(qc.Query)
	historyWords := recentHistoryWords(qc.History, a.cfg.HistoryWindow)
	sourceCounts := countSources(chunks)

	scored := make([]Chunk, len(chunks))
	copy(scored, chunks)

	for i := range scored {
		contentWords := tokenize(scored[i].Content)
		s := subScores{
			semantic:       semanticRelevance(queryWords, contentWords),
			conversational: conversationalRelevance(contentWords, historyWords),
			temporal:       temporalRelevance(scored[i].Timestamp, now, a.cfg.DecayHalfLifeHours),
			domain:         domainRelevance(chunkDomain(scored[i]), qc.Domain),
			authority:      a.authorityScore(scored[i]),
			diversity:      1.0 / float64(sourceCounts[scored[i].Source]),
		}
		scored[i].Relevance = clamp01(w.Relevance*s.semantic +
			w.Recency*s.temporal +
			w.Diversity*s.diversity +
			w.Authority*s.authority +
			a.cfg.ConversationalBonus*s.conversational +
			a.cfg.DomainBonus*s.domain)
	}

	sortByRelevance(scored)
	return scored
}

// semanticRelevance blends word-set overlap (Jaccard) with a saturating
// term-frequency score, clipped to [0,1].
func semanticRelevance(queryWords, contentWords []string) float64 {
	if len(queryWords) == 0 || len(contentWords) == 0 {
		return 0
	}

	querySet := toSet(queryWords)
	contentSet := toSet(contentWords)

	intersection := 0
	for w := range querySet {
		if contentSet[w] {
			intersection++
		}
	}
	union := len(querySet) + len(contentSet) - intersection
	jaccard := float64(intersection) / float64(union)

	// BM25-style saturation: repeated occurrences of a query term add
	// diminishing value.
	const k1 = 1.2
	counts := make(map[string]int, len(contentWords))
	for _, w := range contentWords {
		counts[w]++
	}
	tf := 0.0
	for w := range querySet {
		n := float64(counts[w])
		tf += n * (k1 + 1) / (n + k1)
	}
	tf /= float64(len(querySet))

	return clamp01(0.6*jaccard + 0.4*tf)
}

// conversationalRelevance rewards chunks whose words appear in the recent
// conversation turns, capped at 1.0.
func conversationalRelevance(contentWords []string, historyWords map[string]bool) float64 {
	if len(contentWords) == 0 || len(historyWords) == 0 {
		return 0
	}
	matches := 0
	for _, w := range contentWords {
		if historyWords[w] {
			matches++
		}
	}
	return math.Min(1.0, float64(matches)/float64(len(contentWords))*2)
}

// temporalRelevance decays exponentially with chunk age. A zero timestamp
// is treated as fresh so undated chunks are not penalised.
func temporalRelevance(ts, now time.Time, halfLifeHours float64) float64 {
	if ts.IsZero() {
		return 1.0
	}
	ageHours := now.Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / halfLifeHours)
}

func domainRelevance(chunkDomain, queryDomain string) float64 {
	if chunkDomain == "" || queryDomain == "" {
		return 0.5
	}
	if strings.EqualFold(chunkDomain, queryDomain) {
		return 1.0
	}
	return 0.3
}

func (a *Assembler) authorityScore(c Chunk) float64 {
	score := 0.5
	if a.cfg.AuthoritativeSources[c.Source] {
		score += 0.3
	}
	if title, ok := c.Metadata["title"].(string); ok && title != "" {
		score += 0.1
	}
	if verified, ok := c.Metadata["verified"].(bool); ok && verified {
		score += 0.1
	}
	return clamp01(score)
}

// wordOverlap returns the Jaccard similarity of the two chunks' word sets.
// Used by the diversity filter and MMR selection.
func wordOverlap(a, b string) float64 {
	aSet := toSet(tokenize(a))
	bSet := toSet(tokenize(b))
	if len(aSet) == 0 || len(bSet) == 0 {
		return 0
	}
	intersection := 0
	for w := range aSet {
		if bSet[w] {
			intersection++
		}
	}
	union := len(aSet) + len(bSet) - intersection
	return float64(intersection) / float64(union)
}

func chunkDomain(c Chunk) string {
	if d, ok := c.Metadata["domain"].(string); ok {
		return d
	}
	return ""
}

func recentHistoryWords(history []Turn, window int) map[string]bool {
	if window <= 0 || len(history) == 0 {
		return nil
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	words := make(map[string]bool)
	for _, turn := range history[start:] {
		for _, w := range tokenize(turn.Content) {
			words[w] = true
		}
	}
	return words
}

func countSources(chunks []Chunk) map[string]int {
	counts := make(map[string]int, len(chunks))
	for _, c := range chunks {
		counts[c.Source]++
	}
	return counts
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping words
// shorter than 3 characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			words = append(words, f)
		}
	}
	return words
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
