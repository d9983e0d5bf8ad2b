package native

import "strings"

// PreloadEnv returns environ with variable set to path. An existing value
// of variable is kept after path, separated by ':'.
func PreloadEnv(environ []string, variable, path string) []string {
	env := make([]string, 0, len(environ)+1)
	if path == "" {
		return append(env, environ...)
	}
	value := path
	prefix := variable + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			if old := kv[len(prefix):]; old != "" {
				value = path + ":" + old
			}
			continue
		}
		env = append(env, kv)
	}
	return append(env, prefix+value)
}
