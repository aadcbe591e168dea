package aggregate

import (
	"fmt"
	"strings"

	"github.com/ashureev/childassess/internal/domain"
)

func languagePrompt(age int, transcript string) string {
	if age <= 0 {
		age = 7
	}
	return fmt.Sprintf(
		"You are a professional language therapist. Review this full assessment transcript for a %d-year-old child.\n\n"+
			"%s\n"+
			"Task: Provide a FINAL JSON output with these exact keys:\n"+
			"- 'category': One of ['Excellent', 'Good', 'Needs Attention'] based on overall performance.\n"+
			"- 'summary': A one-line summary of the child's performance (start with '✔' or '⚠').\n"+
			"- 'analysis': A detailed 3-4 sentence professional evaluation citing specific strengths/weaknesses "+
			"from the transcript. Be direct and helpful.\n",
		age, transcript)
}

func chatPrompt(chat []domain.ChatTurn, history []domain.SessionSummary) string {
	var conversation strings.Builder
	for _, t := range chat {
		fmt.Fprintf(&conversation, "%s: %s\n", t.Role, t.Content)
	}

	var previous strings.Builder
	if len(history) > 0 {
		previous.WriteString("PREVIOUS SESSIONS:\n")
		for _, h := range history {
			fmt.Fprintf(&previous, "- %s: %s (%s)\n", h.Timestamp.Format("2006-01-02 15:04"), h.Category, h.Summary)
		}
	}

	return fmt.Sprintf(
		"Analyze this mental health screening conversation with a child:\n%s\n"+
			"%s\n"+
			"Context: The child answered questions using a Likert scale (Least Likely to Most Likely).\n"+
			"Task: Evaluate their responses for signs of Anxiety or Depression.\n"+
			"If 'PREVIOUS SESSIONS' are provided, specifically compare the current state to the past. "+
			"Are they improving or declining?\n"+
			"Provide a JSON output with:\n"+
			"1. 'category': One of ['Good', 'Moderate', 'Needs Attention']\n"+
			"2. 'summary': A short, encouraging message for the child.\n"+
			"3. 'analysis': A 2-3 sentence professional observation for the parent. Mention trend if applicable.\n"+
			"Return ONLY the raw JSON.",
		conversation.String(), previous.String())
}
