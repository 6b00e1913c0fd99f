package gemini

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/question-extractor/internal/extraction"
)

// userTurnPrefix precedes the media URL in every request.
const userTurnPrefix = "Analyze this math video and extract JSON: "

const outputSchema = `{ "question": "", "image_url": "", "options": [ { "text": "", "image": "" }, { "text": "", "image": "" }, { "text": "", "image": "" }, { "text": "", "image": "" } ], "correct_option_index": 0, "youtube_id": "", "chapter_id": 0 }`

// SystemInstruction is the fixed instruction payload sent with every request.
var SystemInstruction = buildInstruction()

func buildInstruction() string {
	var b strings.Builder
	b.WriteString("### ROLE:\n")
	b.WriteString("You are an expert Mathematics Data Analyst specializing in educational content extraction.\n\n")
	b.WriteString("### TASK:\n")
	b.WriteString("Analyze the provided video to extract the mathematical question discussed and format it into a specific JSON structure.\n\n")
	b.WriteString("### CORE INSTRUCTIONS:\n")
	b.WriteString("1. MATHEMATICAL NOTATION: Every mathematical equation, symbol, variable, or formula MUST be written in LaTeX using double backslashes.\n")
	b.WriteString("2. CHAPTER MAPPING: Assign the most appropriate `chapter_id` based strictly on this list:\n")
	for _, ch := range extraction.Chapters() {
		fmt.Fprintf(&b, "   * %d: %s\n", int(ch), ch)
	}
	b.WriteString("3. FIELDS:\n")
	b.WriteString("   * youtube_id: Extract the video ID from the URL provided.\n")
	b.WriteString("   * question/answer: Use LaTeX for all math content.\n")
	fmt.Fprintf(&b, "   * options: Provide exact values/text for exactly %d options (A, B, C and D).\n", extraction.OptionCount)
	b.WriteString("   * image: Always leave as an empty string (\"\").\n")
	b.WriteString("   * correct_option_index: the 0-based index of the correct option.\n\n")
	b.WriteString("### OUTPUT SCHEMA (Strict JSON):\n")
	b.WriteString(outputSchema)
	b.WriteString("\n")
	return b.String()
}

// UserTurn renders the per-item request text.
func UserTurn(url string) string {
	return userTurnPrefix + url
}
