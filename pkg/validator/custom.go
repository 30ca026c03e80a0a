package validator

import (
	"regexp"
	"strings"
)

// customBuiltins is the closed registry of CUSTOM rule names. An unknown
// name is handled by runCustomRule, not by adding to this map.
var customBuiltins = map[string]func(cfg map[string]interface{}, output string) (bool, float64, map[string]interface{}){
	"wordCount":          customWordCount,
	"hasKeywords":        customHasKeywords,
	"sentimentPositive":  customSentimentPositive,
	"sentimentNegative":  customSentimentNegative,
	"codeBlocks":         customCodeBlocks,
	"urlsPresent":        customURLsPresent,
}

func runCustomRule(name string, cfg map[string]interface{}, output string) (passed bool, score float64, details map[string]interface{}, err error) {
	fn, ok := customBuiltins[name]
	if !ok {
		return false, 0, map[string]interface{}{"error": "unknown custom rule"}, nil
	}
	passed, score, details = fn(cfg, output)
	return passed, score, details, nil
}

func customWordCount(cfg map[string]interface{}, output string) (bool, float64, map[string]interface{}) {
	count := len(strings.Fields(output))
	min, _ := cfg["min"].(float64)
	max, hasMax := cfg["max"].(float64)

	if float64(count) < min {
		return false, 0, map[string]interface{}{"wordCount": count, "min": min}
	}
	if hasMax && float64(count) > max {
		return false, 0, map[string]interface{}{"wordCount": count, "max": max}
	}
	return true, 1, map[string]interface{}{"wordCount": count}
}

func customHasKeywords(cfg map[string]interface{}, output string) (bool, float64, map[string]interface{}) {
	rawKeywords, _ := cfg["keywords"].([]interface{})
	lower := strings.ToLower(output)

	found := 0
	for _, raw := range rawKeywords {
		kw, _ := raw.(string)
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			found++
		}
	}
	if len(rawKeywords) == 0 {
		return false, 0, map[string]interface{}{"error": "no keywords configured"}
	}
	score := float64(found) / float64(len(rawKeywords))
	return found > 0, score, map[string]interface{}{"found": found, "total": len(rawKeywords)}
}

var positiveWords = []string{"good", "great", "excellent", "success", "successful", "positive", "improved", "helpful", "effective"}
var negativeWords = []string{"bad", "fail", "failure", "error", "negative", "poor", "broken", "ineffective", "wrong"}

func customSentimentPositive(_ map[string]interface{}, output string) (bool, float64, map[string]interface{}) {
	return sentimentScore(output, positiveWords)
}

func customSentimentNegative(_ map[string]interface{}, output string) (bool, float64, map[string]interface{}) {
	return sentimentScore(output, negativeWords)
}

func sentimentScore(output string, words []string) (bool, float64, map[string]interface{}) {
	lower := strings.ToLower(output)
	hits := 0
	for _, w := range words {
		hits += strings.Count(lower, w)
	}
	score := float64(hits) / 10.0 // 10+ hits saturates to full confidence
	if score > 1 {
		score = 1
	}
	return hits > 0, score, map[string]interface{}{"hits": hits}
}

var codeBlockPattern = regexp.MustCompile("(?s)```.*?```")

func customCodeBlocks(_ map[string]interface{}, output string) (bool, float64, map[string]interface{}) {
	matches := codeBlockPattern.FindAllString(output, -1)
	return len(matches) > 0, boolToScore(len(matches) > 0), map[string]interface{}{"blockCount": len(matches)}
}

var urlPattern = regexp.MustCompile(`https?://[^\s)]+`)

func customURLsPresent(_ map[string]interface{}, output string) (bool, float64, map[string]interface{}) {
	matches := urlPattern.FindAllString(output, -1)
	return len(matches) > 0, boolToScore(len(matches) > 0), map[string]interface{}{"urlCount": len(matches)}
}

func boolToScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
