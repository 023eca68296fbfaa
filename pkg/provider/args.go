package provider

import "fmt"

// StringArg returns args[i] as a string.
func StringArg(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string, got %T", i, args[i])
	}
	return s, nil
}

// OptionsArg returns args[i] as an options object. A missing or null argument
// yields an empty map.
func OptionsArg(args []interface{}, i int) (map[string]interface{}, error) {
	if i >= len(args) || args[i] == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := args[i].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %d must be an object, got %T", i, args[i])
	}
	return m, nil
}

// OptionString returns opts[key] when it is a non-empty string.
func OptionString(opts map[string]interface{}, key string) string {
	s, _ := opts[key].(string)
	return s
}
