package pipeline

import "strings"

const promptInstruction = "Generate a professional email reply for the following email content. Please don't generate a subject line."

// BuildPrompt assembles the provider prompt from already-masked content.
// The tone sentence is added only when tone is non-empty.
func BuildPrompt(maskedContent, tone string) string {
	var b strings.Builder
	b.Grow(len(promptInstruction) + len(tone) + len(maskedContent) + 40)

	b.WriteString(promptInstruction)
	if tone != "" {
		b.WriteString(" Use a ")
		b.WriteString(tone)
		b.WriteString(" tone.")
	}
	b.WriteString("\n Original email: \n")
	b.WriteString(maskedContent)
	return b.String()
}
