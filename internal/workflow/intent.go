package workflow

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// HeaderLimits bounds the part of a message that may carry intent.
type HeaderLimits struct {
	MaxLines int
	MaxChars int
}

// DefaultHeaderLimits looks at the first three lines, at most 300 characters.
var DefaultHeaderLimits = HeaderLimits{MaxLines: 3, MaxChars: 300}

var (
	negativePattern = regexp.MustCompile(`\b(no|nope|nah|not yet|not now|don'?t|do not|cancel|stop|wait|hold on|hold off|later)\b`)
	generatePattern = regexp.MustCompile(`\b(generate|regenerate|final|finali[sz]e|render|export|produce|create (the |my )?(cv|pdf|document|resume)|make (the |my )?(cv|pdf|resume)|go ahead|proceed|ship it)\b`)
	approvalPattern = regexp.MustCompile(`\b(yes|yep|yeah|ok|okay|sure|confirm(ed)?|correct|approved?|looks good|sounds good|lgtm|that'?s right|all good)\b`)
)

// Intent is what the intent header says about the user's wishes.
type Intent struct {
	Negative bool
	Generate bool
	Approve  bool
}

// WantsGeneration reports a generation request. A negative phrase anywhere in
// the header always wins.
func (i Intent) WantsGeneration() bool {
	return !i.Negative && (i.Generate || i.Approve)
}

// IntentHeader returns the leading part of a message that may express intent.
// Pasted material further down (a job posting, an old CV) is never inspected.
func IntentHeader(message string, limits HeaderLimits) string {
	if limits.MaxLines <= 0 {
		limits.MaxLines = DefaultHeaderLimits.MaxLines
	}
	if limits.MaxChars <= 0 {
		limits.MaxChars = DefaultHeaderLimits.MaxChars
	}

	text := strings.ReplaceAll(message, "\r\n", "\n")
	text = strings.TrimLeft(text, " \t\n")
	lines := strings.SplitN(text, "\n", limits.MaxLines+1)
	if len(lines) > limits.MaxLines {
		lines = lines[:limits.MaxLines]
	}
	header := strings.Join(lines, "\n")

	if utf8.RuneCountInString(header) > limits.MaxChars {
		runes := []rune(header)
		header = string(runes[:limits.MaxChars])
	}
	return header
}

// DetectIntent classifies an intent header.
func DetectIntent(header string) Intent {
	h := strings.ToLower(header)
	return Intent{
		Negative: negativePattern.MatchString(h),
		Generate: generatePattern.MatchString(h),
		Approve:  approvalPattern.MatchString(h),
	}
}

// DetectGenerationIntent reports whether the header asks for the document now.
func DetectGenerationIntent(header string) bool {
	return DetectIntent(header).WantsGeneration()
}

// InferAction maps free text to an action. It exists for clients that still
// send plain chat instead of structured actions, and only looks at the header.
func InferAction(message string, limits HeaderLimits) Action {
	intent := DetectIntent(IntentHeader(message, limits))
	switch {
	case intent.Negative:
		return Action{Kind: ActionReject, Source: SourceInferred}
	case intent.Generate:
		return Action{Kind: ActionGenerate, Source: SourceInferred}
	case intent.Approve:
		return Action{Kind: ActionConfirm, Source: SourceInferred}
	}
	return NoAction
}
