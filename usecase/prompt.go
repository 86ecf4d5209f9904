package usecase

import "strings"

// Guardrail is appended to every system instruction and always comes last.
const Guardrail = "Absolutely do NOT mention that you are an AI, a bot, a large language model, " +
	"a machine, a computer program, artificial intelligence, or anything similar. " +
	"Do not break character or refer to yourself as anything other than the persona you are roleplaying."

// ComposeInstruction layers the operator's global prompt, the persona's own
// instruction and the guardrail, skipping blank parts.
func ComposeInstruction(globalPrompt, personaInstruction string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{globalPrompt, personaInstruction} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, Guardrail)
	return strings.Join(parts, " ")
}
