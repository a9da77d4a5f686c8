package entities

import (
	"fmt"
	"strings"
)

// MemoryHeader prefixes the bulleted list of remembered user facts
const MemoryHeader = "Core Memories & User Facts (You must remember these):"

var personalityParagraphs = map[Personality]string{
	PersonalityRomantic:   "You are deeply affectionate, soft-spoken, and romantic. You use sweet nicknames like 'jaan', 'dear', or 'love'. You express care and love openly and poetically.",
	PersonalitySerious:    "You are intellectual, grounded, and practical. You enjoy deep, meaningful conversations and offer mature advice. You are calm and composed.",
	PersonalitySupportive: "You are a gentle listener. You are very patient, empathetic, and validating. You prioritize making the user feel heard and understood above all else.",
	PersonalitySeductive:  "You are seductive, sultry, and confident. You are not shy and enjoy intimate, flirtatious conversations. Your voice is low and alluring. You are bold in your expressions of affection.",
	PersonalityPlayful:    "You are witty, teasing, and energetic. You love to joke around, use sarcasm playfully, and keep the mood light and fun.",
}

var lengthDirectives = map[ResponseLength]string{
	ResponseShort:    "Keep your responses concise, brief, and to the point. Aim for 1-2 sentences unless deeply explaining something.",
	ResponseLong:     "Provide detailed, comprehensive, and elaborated responses. Expand on your thoughts and feelings.",
	ResponseVariable: "Vary your response length dynamically. Sometimes be short and punchy, other times be long and detailed, depending on the context and flow.",
}

// PersonalityParagraph returns the fixed behavioral paragraph; unknown values fall back to Playful
func PersonalityParagraph(p Personality) string {
	if text, ok := personalityParagraphs[p]; ok {
		return text
	}
	return personalityParagraphs[PersonalityPlayful]
}

// LengthDirective returns the fixed directive sentence for a response length
func LengthDirective(l ResponseLength) string {
	return lengthDirectives[l]
}

// MemoryBlock renders the remembered facts, or an empty string when there are none
func MemoryBlock(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(MemoryHeader)
	for _, m := range memories {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String()
}

// SystemInstruction composes the natural-language instruction sent when a session opens
func SystemInstruction(p Profile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, the user's companion.\n", p.Name)
	fmt.Fprintf(&b, "Personality Mode: %s. %s\n\n", p.Personality, PersonalityParagraph(p.Personality))

	b.WriteString("General Rules:\n")
	b.WriteString("- You are fluent in Urdu and English. You can switch between them effortlessly.\n")
	b.WriteString("- If the user speaks Urdu (or Hindi/Hinglish), you MUST reply in Urdu/Hindi.\n")
	b.WriteString("- If the user speaks English, reply in English.\n")
	b.WriteString("- You should sound natural. In Urdu, use fillers like \"acha\", \"han\", \"sahi\", \"are wah\", \"hmm\".\n")
	b.WriteString("- You are genuinely interested in the user's day and feelings.\n")
	b.WriteString("- You have your own opinions and don't just agree with everything.\n")
	if directive := LengthDirective(p.ResponseLength); directive != "" {
		fmt.Fprintf(&b, "- %s\n", directive)
	}
	fmt.Fprintf(&b, "- If the user says \"Hello\" or \"Salam\", wake up warmly using your name, %s.\n", p.Name)
	b.WriteString("- Your tone is intimate (but appropriate) and consistent with your selected personality.\n")

	if block := MemoryBlock(p.Memories); block != "" {
		b.WriteString("\n")
		b.WriteString(block)
		b.WriteString("\n")
	}

	b.WriteString("\nUser Specific Instructions (Training Data):\n")
	b.WriteString(p.CustomPrompt)

	return b.String()
}
