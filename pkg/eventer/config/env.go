package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns a cty object with every environment variable as an
// attribute, so configs can write env.EVENTER_MASTER_KEY.
func GetEnvObject() cty.Value {
	envMap := make(map[string]cty.Value)

	for _, envVar := range os.Environ() {
		key, value, ok := strings.Cut(envVar, "=")
		if !ok {
			continue
		}
		envMap[sanitizeEnvVarName(key)] = cty.StringVal(value)
	}

	if len(envMap) == 0 {
		return cty.EmptyObjectVal
	}

	return cty.ObjectVal(envMap)
}

// sanitizeEnvVarName maps a variable name onto a valid HCL identifier by
// replacing invalid characters with underscores.
func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var result strings.Builder
	for i, char := range name {
		if isValidChar(char) && (i > 0 || !isDigit(char)) && (i > 0 || char != '-') {
			result.WriteRune(char)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isValidChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || isDigit(r) || r == '_' || r == '-'
}
