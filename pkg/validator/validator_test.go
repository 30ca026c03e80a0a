package validator

import (
	"testing"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestEvaluatePassesWhenConfidenceMeetsThreshold(t *testing.T) {
	cfg := model.ValidationConfig{
		MinThreshold: 0.5,
		Rules: []model.ValidationRule{
			{Kind: model.RuleKindRegex, Name: "has-summary", Weight: 1, Required: true, Config: map[string]interface{}{"pattern": `(?i)summary`}},
		},
	}

	v := Evaluate(cfg, "Here is the Summary of findings.")
	assert.True(t, v.Passed)
	assert.False(t, v.ShouldHalt)
	assert.False(t, v.ShouldRetry)
}

func TestEvaluateHaltsWhenRequiredRuleFails(t *testing.T) {
	cfg := model.ValidationConfig{
		MinThreshold: 0.5,
		Rules: []model.ValidationRule{
			{Kind: model.RuleKindRegex, Name: "has-summary", Weight: 1, Required: true, Config: map[string]interface{}{"pattern": `nonexistent-token`}},
		},
	}

	v := Evaluate(cfg, "no match here")
	assert.False(t, v.Passed)
	assert.True(t, v.ShouldHalt)
}

func TestEvaluateRetriesOnSoftFailure(t *testing.T) {
	cfg := model.ValidationConfig{
		MinThreshold:   0.9,
		HaltThreshold:  0.1,
		RetryOnFailure: true,
		Rules: []model.ValidationRule{
			{Kind: model.RuleKindCustom, Name: "hasKeywords", Weight: 1, Config: map[string]interface{}{"keywords": []interface{}{"short", "summary"}}},
		},
	}

	v := Evaluate(cfg, "short")
	assert.False(t, v.Passed)
	assert.False(t, v.ShouldHalt)
	assert.True(t, v.ShouldRetry)
}

func TestSchemaRuleRequiresDeclaredFields(t *testing.T) {
	cfg := map[string]interface{}{"type": "object", "required": []interface{}{"name"}}

	passed, score, _, err := runSchemaRule(cfg, `{"age": 5}`)
	assert.NoError(t, err)
	assert.False(t, passed)
	assert.Zero(t, score)

	passed, score, _, err = runSchemaRule(cfg, `{"name": "bob"}`)
	assert.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, 1.0, score)
}

func TestSemanticRulePassesOnHighSimilarity(t *testing.T) {
	cfg := map[string]interface{}{"topics": []interface{}{"database migration rollback"}}

	passed, score, _, err := runSemanticRule(cfg, "This document describes the database migration rollback procedure.")
	assert.NoError(t, err)
	assert.True(t, passed)
	assert.Greater(t, score, 0.5)
}

func TestCustomRuleUnknownNameFailsClosed(t *testing.T) {
	passed, score, _, err := runCustomRule("notARealRule", nil, "anything")
	assert.NoError(t, err)
	assert.False(t, passed)
	assert.Zero(t, score)
}

func TestCustomCodeBlocksDetectsFencedBlock(t *testing.T) {
	passed, _, details, err := runCustomRule("codeBlocks", nil, "before\n```go\nfmt.Println(1)\n```\nafter")
	assert.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, 1, details["blockCount"])
}

func TestCustomURLsPresentFindsURL(t *testing.T) {
	passed, _, _, err := runCustomRule("urlsPresent", nil, "see https://example.com/docs for more")
	assert.NoError(t, err)
	assert.True(t, passed)
}
