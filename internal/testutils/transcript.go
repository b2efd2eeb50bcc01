package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is an interface that matches the methods we need from testing.T
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TranscriptOptions controls how console or log output is normalized before comparison.
type TranscriptOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	// MaskClock replaces HH:MM:SS wall-clock values with "##:##:##".
	MaskClock    bool `default:"false"`
	EnableColors bool `default:"false"`
}

// TranscriptOption is a functional option for configuring TranscriptAsserter
type TranscriptOption func(*TranscriptOptions)

// TranscriptAsserter compares multi-line output and reports a unified diff on mismatch.
type TranscriptAsserter struct {
	t       TestingT
	options TranscriptOptions
}

var clockPattern = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}\b`)

// NewTranscriptAsserter creates a TranscriptAsserter with default options.
func NewTranscriptAsserter(t TestingT, opts ...TranscriptOption) *TranscriptAsserter {
	o := TranscriptOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TranscriptAsserter{t: t, options: o}
}

// Options returns a copy of the current options.
func (ta *TranscriptAsserter) Options() TranscriptOptions {
	return ta.options
}

// Assert compares actual text against expected text. It reports whether they matched.
func (ta *TranscriptAsserter) Assert(actual, expected string) bool {
	diff := ta.Diff(actual, expected)
	if diff != "" {
		ta.t.Errorf("Transcript mismatch - unified diff:\n%s", diff)
		return false
	}
	return true
}

// Diff returns the unified diff between the normalized texts, or "" when they match.
func (ta *TranscriptAsserter) Diff(actual, expected string) string {
	normalizedActual := ta.normalize(actual)
	normalizedExpected := ta.normalize(expected)

	if normalizedActual == normalizedExpected {
		return ""
	}

	edits := myers.ComputeEdits("", normalizedExpected, normalizedActual)
	unified := gotextdiff.ToUnified("expected", "actual", normalizedExpected, edits)
	return ta.colorize(fmt.Sprint(unified))
}

func (ta *TranscriptAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(visibleWhitespace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(visibleWhitespace(line))
		}
	}
	return strings.Join(lines, "\n")
}

// visibleWhitespace replaces spaces with · and tabs with →
func visibleWhitespace(line string) string {
	line = strings.ReplaceAll(line, " ", "·")
	return strings.ReplaceAll(line, "\t", "→")
}

func (ta *TranscriptAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}

	var result []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.MaskClock {
			line = clockPattern.ReplaceAllString(line, "##:##:##")
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}

// WithIgnoreEmptyLines sets whether to ignore empty lines
func WithIgnoreEmptyLines(ignore bool) TranscriptOption {
	return func(opts *TranscriptOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}

// WithIgnoreTrailingWhitespace sets whether to ignore trailing whitespace on each line
func WithIgnoreTrailingWhitespace(ignore bool) TranscriptOption {
	return func(opts *TranscriptOptions) {
		opts.IgnoreTrailingWhitespace = ignore
	}
}

// WithTrimSpace sets whether to trim leading and trailing whitespace from entire text
func WithTrimSpace(trim bool) TranscriptOption {
	return func(opts *TranscriptOptions) {
		opts.TrimSpace = trim
	}
}

// WithMaskClock sets whether HH:MM:SS values are masked before comparison
func WithMaskClock(mask bool) TranscriptOption {
	return func(opts *TranscriptOptions) {
		opts.MaskClock = mask
	}
}

// WithEnableColors sets whether to enable colored diff output
func WithEnableColors(enable bool) TranscriptOption {
	return func(opts *TranscriptOptions) {
		opts.EnableColors = enable
	}
}
