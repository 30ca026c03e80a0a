// Package validator scores agent output against an ordered list of rules and
// derives a pass/retry/halt verdict from the weighted result.
package validator

import (
	"fmt"

	"github.com/agentflow/orchestrator/pkg/model"
)

// RuleResult is a single rule's outcome.
type RuleResult struct {
	RuleName string
	Kind     model.RuleKind
	Passed   bool
	Score    float64 // [0,1]
	Message  string
	Details  map[string]interface{}
	Required bool
	Weight   float64
}

// Verdict is the aggregated outcome of running every rule in a
// ValidationConfig against one piece of output.
type Verdict struct {
	Confidence  float64
	Passed      bool
	ShouldHalt  bool
	ShouldRetry bool
	Results     []RuleResult
}

// defaultSimilarityThreshold is the SEMANTIC rule's default pass bar when its
// config omits similarityThreshold.
const defaultSimilarityThreshold = 0.5

// defaultMinThreshold and defaultHaltThreshold apply when a ValidationConfig
// leaves its thresholds at the zero value.
const (
	defaultMinThreshold  = 0.7
	defaultHaltThreshold = 0.2
)

// Evaluate runs every rule in cfg against output, in order, and returns the
// aggregated Verdict.
func Evaluate(cfg model.ValidationConfig, output string) Verdict {
	minThreshold := cfg.MinThreshold
	if minThreshold == 0 {
		minThreshold = defaultMinThreshold
	}
	haltThreshold := cfg.HaltThreshold
	if haltThreshold == 0 {
		haltThreshold = defaultHaltThreshold
	}

	results := make([]RuleResult, 0, len(cfg.Rules))
	var weightedScore, totalWeight float64
	requiredFailed := false

	for _, rule := range cfg.Rules {
		res := runRule(rule, output)
		results = append(results, res)

		weight := rule.Weight
		if weight == 0 {
			weight = 1
		}
		weightedScore += res.Score * weight
		totalWeight += weight

		if rule.Required && !res.Passed {
			requiredFailed = true
		}
	}

	confidence := 0.0
	if totalWeight > 0 {
		confidence = weightedScore / totalWeight
	}

	shouldHalt := requiredFailed || confidence < haltThreshold
	passed := !requiredFailed && confidence >= minThreshold
	shouldRetry := cfg.RetryOnFailure && !passed && !shouldHalt

	return Verdict{
		Confidence:  confidence,
		Passed:      passed,
		ShouldHalt:  shouldHalt,
		ShouldRetry: shouldRetry,
		Results:     results,
	}
}

func runRule(rule model.ValidationRule, output string) RuleResult {
	base := RuleResult{RuleName: rule.Name, Kind: rule.Kind, Required: rule.Required, Weight: rule.Weight}

	var passed bool
	var score float64
	var message string
	var details map[string]interface{}
	var err error

	switch rule.Kind {
	case model.RuleKindSchema:
		passed, score, details, err = runSchemaRule(rule.Config, output)
	case model.RuleKindRegex:
		passed, score, details, err = runRegexRule(rule.Config, output)
	case model.RuleKindSemantic:
		passed, score, details, err = runSemanticRule(rule.Config, output)
	case model.RuleKindCustom:
		passed, score, details, err = runCustomRule(rule.Name, rule.Config, output)
	default:
		err = fmt.Errorf("unknown rule kind %q", rule.Kind)
	}

	if err != nil {
		message = err.Error()
	}

	base.Passed = passed
	base.Score = score
	base.Message = message
	base.Details = details
	return base
}
