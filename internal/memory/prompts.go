package memory

import (
	"fmt"
	"time"
)

func extractionPrompts(content string, now time.Time) (string, string) {
	systemPrompt := fmt.Sprintf(`You are a Personal Information Organizer for a customer support system. Extract distinct, manageable facts about the customer from the message below: preferences, personal details (names, relationships, dates), plans, locations, and clear factual statements worth remembering for future conversations.

Here are some few shot examples:

Input: Hi.
Output: {"memories": []}

Input: Hi, my name is Dana and I live in Lisbon.
Output: {"memories": [{"content": "Name is Dana", "structured_data": {"name": "Dana"}}, {"content": "Lives in Lisbon", "structured_data": {"city": "Lisbon"}}]}

Input: I prefer email over phone calls.
Output: {"memories": [{"content": "Prefers email over phone calls"}]}

Remember the following:
- Today's date is %s.
- Return ONLY a valid JSON object with a "memories" key containing an array of {"content", "structured_data"} objects.
- If nothing in the message is worth remembering, return an empty array for "memories".
- Record facts in the same language as the input.
- Break statements with multiple pieces of information into separate facts.`, now.Format("2006-01-02"))

	userPrompt := fmt.Sprintf("Extract memorable facts from this message:\n\n%s", content)
	return systemPrompt, userPrompt
}
