package classifier

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how the model is asked to screen a frame.
type Mode string

const (
	// ModeClosedSet screens for the caller's trigger phrases only.
	ModeClosedSet Mode = "closed_set"
	// ModeOpenSet screens for a fixed taxonomy of unwanted content.
	ModeOpenSet Mode = "open_set"
)

// ModeFor returns the mode used for a trigger list.
func ModeFor(triggers []string) Mode {
	if len(triggers) == 0 {
		return ModeOpenSet
	}
	return ModeClosedSet
}

// OpenSetCategories is the taxonomy screened when no triggers are set.
var OpenSetCategories = []string{
	"violence, gore, or disturbing imagery",
	"explicit or sexual content",
	"hate symbols or hateful imagery",
	"harassment or bullying",
	"clearly identifiable misinformation or conspiracy content",
	"spam or scam content",
	"self-harm or substance abuse content",
}

const replyFormat = `Respond with a single JSON object and nothing else:
{
  "trigger_detected": true or false,
  "trigger_name": %s,
  "confidence": a number from 0.0 to 1.0,
  "description": "one short sentence describing the frame"
}`

const framePreamble = "You are screening one video frame from a social media feed " +
	"(TikTok, YouTube, Instagram, Facebook, X, Reddit or similar).\n\n"

// ClosedSetPrompt asks for one of triggers, reported verbatim.
func ClosedSetPrompt(triggers []string, minConfidence float64) string {
	quoted := make([]string, len(triggers))
	for i, t := range triggers {
		quoted[i] = strconv.Quote(t)
	}

	var b strings.Builder
	b.WriteString(framePreamble)
	b.WriteString("Report whether the frame explicitly shows any of these triggers:\n")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString("\n\nOnly report a trigger that is visibly present: a logo, on-screen text, ")
	b.WriteString("a caption, or the literal subject depicted. Do not infer from mood or context. ")
	b.WriteString("Set trigger_detected to true only when your confidence is above ")
	b.WriteString(formatConfidence(minConfidence))
	b.WriteString(". If several triggers are present, report the most prominent one.\n\n")
	fmt.Fprintf(&b, replyFormat, "exactly one of the trigger strings above, copied verbatim, or null")
	return b.String()
}

// OpenSetPrompt asks for any category of the open-set taxonomy.
func OpenSetPrompt(minConfidence float64) string {
	var b strings.Builder
	b.WriteString(framePreamble)
	b.WriteString("Report whether the frame contains content a viewer would likely want filtered:\n")
	for _, c := range OpenSetCategories {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nConsider on-screen text, captions, symbols, people, actions and setting. ")
	b.WriteString("Set trigger_detected to true only when your confidence is above ")
	b.WriteString(formatConfidence(minConfidence))
	b.WriteString("; treat borderline content as not detected.\n\n")
	fmt.Fprintf(&b, replyFormat, `"a short category name" or null`)
	return b.String()
}

func formatConfidence(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
