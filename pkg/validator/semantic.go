package validator

import "strings"

// runSemanticRule tokenizes output and each expected topic into lowercase
// word sets (min token length 3), scores similarity as |intersection| /
// max(|A|,|B|) boosted 2x and capped at 1.0, and passes if the best topic's
// similarity meets similarityThreshold (default 0.5).
func runSemanticRule(cfg map[string]interface{}, output string) (passed bool, score float64, details map[string]interface{}, err error) {
	rawTopics, _ := cfg["topics"].([]interface{})
	if len(rawTopics) == 0 {
		return false, 0, map[string]interface{}{"error": "no topics configured"}, nil
	}

	threshold := defaultSimilarityThreshold
	if t, ok := cfg["similarityThreshold"].(float64); ok {
		threshold = t
	}

	outputSet := tokenize(output)

	best := 0.0
	var bestTopic string
	for _, raw := range rawTopics {
		topic, _ := raw.(string)
		topicSet := tokenize(topic)
		sim := similarity(outputSet, topicSet)
		if sim > best {
			best = sim
			bestTopic = topic
		}
	}

	return best >= threshold, best, map[string]interface{}{"bestTopic": bestTopic, "similarity": best}, nil
}

// tokenize lowercases s and returns the set of words with length >= 3.
func tokenize(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]struct{})
	for _, w := range words {
		if len(w) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

// similarity computes |a ∩ b| / max(|a|,|b|), boosted 2x and capped at 1.0.
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	sim := float64(intersection) / float64(denom) * 2
	if sim > 1 {
		sim = 1
	}
	return sim
}
