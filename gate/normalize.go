package gate

import "strings"

// Normalizer turns the configured destination into the numbers to try, in
// order. The first entry is dialed first; the rest are fallbacks.
type Normalizer interface {
	Candidates(number string) []string
}

// NormalizerFunc adapts a function to [Normalizer].
type NormalizerFunc func(number string) []string

func (f NormalizerFunc) Candidates(number string) []string { return f(number) }

// Verbatim dials the configured number unchanged.
var Verbatim = NormalizerFunc(func(number string) []string { return []string{number} })

// InternationalPrefix strips visual separators and, for international
// numbers, adds the other prefix form as a fallback: "+49..." is followed by
// ExitCode+"49...", and ExitCode+"49..." by "+49...". Some carriers accept
// only one of the two.
type InternationalPrefix struct {
	ExitCode string
}

func (p InternationalPrefix) Candidates(number string) []string {
	clean := stripSeparators(number)
	exit := p.ExitCode
	if exit == "" {
		exit = "00"
	}

	switch {
	case strings.HasPrefix(clean, "+") && len(clean) > 1:
		return []string{clean, exit + clean[1:]}
	case strings.HasPrefix(clean, exit) && len(clean) > len(exit):
		return []string{clean, "+" + clean[len(exit):]}
	default:
		return []string{clean}
	}
}

func stripSeparators(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '/', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(number))
}
