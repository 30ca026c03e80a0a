package validator

import "encoding/json"

// runSchemaRule parses output as JSON and checks the declared `type` and
// `required` fields. Passes iff parsing succeeds and every declared
// invariant holds.
func runSchemaRule(cfg map[string]interface{}, output string) (passed bool, score float64, details map[string]interface{}, err error) {
	var parsed interface{}
	if jsonErr := json.Unmarshal([]byte(output), &parsed); jsonErr != nil {
		return false, 0, map[string]interface{}{"parseError": jsonErr.Error()}, nil
	}

	wantType, _ := cfg["type"].(string)
	if wantType != "" && !matchesJSONType(parsed, wantType) {
		return false, 0, map[string]interface{}{"expectedType": wantType}, nil
	}

	requiredFields, _ := cfg["required"].([]interface{})
	if len(requiredFields) > 0 {
		obj, ok := parsed.(map[string]interface{})
		if !ok {
			return false, 0, map[string]interface{}{"error": "required fields specified but output is not an object"}, nil
		}
		var missing []string
		for _, f := range requiredFields {
			name, _ := f.(string)
			if _, present := obj[name]; !present {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return false, 0, map[string]interface{}{"missing": missing}, nil
		}
	}

	return true, 1, nil, nil
}

func matchesJSONType(v interface{}, want string) bool {
	switch want {
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "null":
		return v == nil
	default:
		return false
	}
}
