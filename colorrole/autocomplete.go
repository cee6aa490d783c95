package colorrole

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// Keywords accepted by the color command besides hex codes
const (
	KeywordReset = "reset"
	KeywordHelp  = "help"
)

var partialColor = regexp.MustCompile(`(?i)^#?[\da-f]{0,6}`)

// Suggest completes a partially typed hex code with random digits and always
// offers the reset and help keywords. Exact prefix matches are listed first.
func Suggest(focused string, rnd *rand.Rand) []string {
	prefix := "#"
	partial := ""

	if m := partialColor.FindString(focused); m != "" {
		partial = m
		if strings.HasPrefix(partial, "#") {
			partial = partial[1:]
		} else {
			prefix = ""
		}
	}
	partial = strings.ToLower(partial)
	prefix += partial

	var options []string
	if len(partial) == 3 {
		options = append(options, prefix)
	}

	completed := prefix
	for i := len(partial); i < 6; i++ {
		completed += string("0123456789abcdef"[rnd.IntN(16)])
	}
	options = append(options, completed, KeywordReset, KeywordHelp)

	return sortByPrefix(options, strings.ToLower(focused))
}

// sortByPrefix moves options starting with focused to the front, keeping the
// relative order otherwise.
func sortByPrefix(options []string, focused string) []string {
	if focused == "" {
		return options
	}

	sorted := make([]string, 0, len(options))
	var rest []string
	for _, option := range options {
		if strings.HasPrefix(option, focused) {
			sorted = append(sorted, option)
			continue
		}
		rest = append(rest, option)
	}
	return append(sorted, rest...)
}
