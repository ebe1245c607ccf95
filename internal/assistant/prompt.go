package assistant

import "strings"

var suggestions = []string{
	"Which surgeries are scheduled this week?",
	"Which staff members are available?",
	"How long does an orthopedic surgery usually take?",
	"Are there conflicts in the schedule?",
	"Who is assigned as scrub nurse this Sunday?",
	"Which patients should be prioritized on ethical grounds?",
}

// SuggestedQuestions returns example questions for a new conversation.
func SuggestedQuestions() []string {
	return append([]string(nil), suggestions...)
}

// ComposePrompt prepends the schedule summary to the question. An empty
// summary leaves the question untouched.
func ComposePrompt(summary, question string) string {
	question = strings.TrimSpace(question)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return question
	}
	var b strings.Builder
	b.WriteString("Context from the current surgical schedule:\n")
	b.WriteString(summary)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
