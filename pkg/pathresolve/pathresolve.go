// Package pathresolve expands %TOKEN% placeholders in plugin paths.
//
// Resolution is best effort: a token that has no value stays in the path
// verbatim, so the file or registry operation that receives it fails with a
// not-found error instead of resolution failing on its own.
package pathresolve

import (
	"os"
	"regexp"
	"strings"
)

// InstallDirToken is replaced with the task's install directory.
const InstallDirToken = "%installDir%"

var (
	installDirPattern = regexp.MustCompile(`(?i)%installDir%`)
	tokenPattern      = regexp.MustCompile(`%(\w+)%`)
)

// Resolve replaces every case-insensitive %installDir% with installDir, then
// every remaining %TOKEN% with its value from env. Env lookup is exact first
// and falls back to a case-insensitive match, since Windows variable names are
// case-insensitive. Unknown tokens are left untouched.
func Resolve(path string, env map[string]string, installDir string) string {
	if path == "" {
		return path
	}

	resolved := installDirPattern.ReplaceAllLiteralString(path, installDir)

	return tokenPattern.ReplaceAllStringFunc(resolved, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := lookup(env, name); ok {
			return value
		}
		return match
	})
}

// Unresolved returns the %TOKEN% placeholders still present in path.
func Unresolved(path string) []string {
	return tokenPattern.FindAllString(path, -1)
}

func lookup(env map[string]string, name string) (string, bool) {
	if value, ok := env[name]; ok {
		return value, true
	}
	for k, v := range env {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Environ returns a snapshot of the process environment as a map.
func Environ() map[string]string {
	return FromList(os.Environ())
}

// FromList converts KEY=VALUE pairs into a map. Later duplicates win. Windows
// exposes per-drive entries such as "=C:=C:\" which are skipped.
func FromList(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}
