// Package shellcmd assembles copy-pasteable shell command lines. It uses the
// shfmt parser stack (mvdan.cc/sh/v3) for quoting, so the produced strings
// are valid shell regardless of what ends up in an argument.
package shellcmd

import (
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Join renders argv as a single shell command line, quoting each word as
// needed.
func Join(argv []string) (string, error) {
	words := make([]string, 0, len(argv))
	for _, arg := range argv {
		quoted, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("failed to quote %q: %w", arg, err)
		}
		words = append(words, quoted)
	}
	return strings.Join(words, " "), nil
}

// JoinWithEnv renders argv prefixed with KEY=value assignments, the way a
// user would launch the process by hand. Keys are emitted in sorted order so
// the output is stable.
func JoinWithEnv(env map[string]string, argv []string) (string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(env)+len(argv))
	for _, k := range keys {
		quoted, err := syntax.Quote(env[k], syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("failed to quote value of %s: %w", k, err)
		}
		parts = append(parts, k+"="+quoted)
	}
	cmd, err := Join(argv)
	if err != nil {
		return "", err
	}
	if cmd != "" {
		parts = append(parts, cmd)
	}
	return strings.Join(parts, " "), nil
}

// Valid reports whether s parses as a shell statement.
func Valid(s string) bool {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	_, err := parser.Parse(strings.NewReader(s), "")
	return err == nil
}
