package config

import "os"

// ExpandEnv expands environment variables in raw YAML bytes, shell-style
// (${VAR} and $VAR). Missing variables expand to the empty string —
// validation is responsible for catching required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
