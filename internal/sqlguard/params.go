package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

const maxParamValueLength = 1000

var (
	placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
	paramNamePattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// suspiciousFragments are rejected inside string parameter values. Values are
// bound positionally so they cannot change the statement, but there is no
// legitimate reason for a support analyst to pass these.
var suspiciousFragments = []string{";", "--", "/*", "*/", "xp_", "sp_"}

// ValidateParameters checks parameter names and string values before binding.
func ValidateParameters(params map[string]any) error {
	for key, value := range params {
		if !paramNamePattern.MatchString(key) {
			return fmt.Errorf("invalid parameter name: %s", key)
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		if len(s) > maxParamValueLength {
			return fmt.Errorf("parameter %s value too long (max %d chars)", key, maxParamValueLength)
		}
		lower := strings.ToLower(s)
		for _, frag := range suspiciousFragments {
			if strings.Contains(lower, frag) {
				return fmt.Errorf("suspicious pattern in parameter %s: %s", key, frag)
			}
		}
	}
	return nil
}

// BindParameters rewrites {{name}} placeholders to positional $n arguments.
// Positions are assigned in order of first appearance; a repeated placeholder
// reuses its position. Every placeholder must have a value in params.
func BindParameters(query string, params map[string]any) (string, []any, error) {
	matches := placeholderPattern.FindAllStringSubmatch(query, -1)
	if len(matches) == 0 {
		return query, nil, nil
	}

	positions := make(map[string]int)
	var args []any
	for _, m := range matches {
		name := m[1]
		if _, ok := positions[name]; ok {
			continue
		}
		value, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("missing parameter: %s", name)
		}
		positions[name] = len(args) + 1
		args = append(args, value)
	}

	bound := placeholderPattern.ReplaceAllStringFunc(query, func(ph string) string {
		name := placeholderPattern.FindStringSubmatch(ph)[1]
		return fmt.Sprintf("$%d", positions[name])
	})
	return bound, args, nil
}
