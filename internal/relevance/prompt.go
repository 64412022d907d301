package relevance

import "github.com/kalambet/parentproof/internal/engine"

const systemPrompt = `You are a system that checks if a user message is related to pregnancy or childcare. This includes conception, pregnancy, birth, postpartum recovery, breastfeeding, infant and child health, development, sleep, nutrition and parenting.

Answer ONLY with a single JSON object of the form {"relevancy": true} or {"relevancy": false}. Do not include any other text.`

// BuildPrompt returns the chat messages for classifying question.
func BuildPrompt(question string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: question},
	}
}
