package validator

import "regexp"

// runRegexRule compiles cfg["pattern"] (with optional cfg["flags"] inline
// flags, e.g. "i" for case-insensitive) and passes on at least one match.
func runRegexRule(cfg map[string]interface{}, output string) (passed bool, score float64, details map[string]interface{}, err error) {
	pattern, _ := cfg["pattern"].(string)
	if pattern == "" {
		return false, 0, map[string]interface{}{"error": "missing pattern"}, nil
	}

	if flags, ok := cfg["flags"].(string); ok && flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}

	re, compileErr := regexp.Compile(pattern)
	if compileErr != nil {
		return false, 0, map[string]interface{}{"compileError": compileErr.Error()}, nil
	}

	matches := re.FindAllString(output, -1)
	if len(matches) == 0 {
		return false, 0, map[string]interface{}{"matchCount": 0}, nil
	}
	return true, 1, map[string]interface{}{"matchCount": len(matches)}, nil
}
