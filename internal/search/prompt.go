package search

import "fmt"

// SystemPrompt fixes the output grammar the answer parser expects.
const SystemPrompt = `You are a scientific research assistant specializing in pregnancy and parenting topics.
For the given question, look up evidence-based information ONLY from peer-reviewed scientific studies and medical research websites.

CRITICAL: Format your response EXACTLY as follows, using these EXACT markers:

<PROS>
• Each evidence-supported benefit or positive finding [n]
• One point per line, starting with •
• If no evidence-based pros exist, include ONLY something like: • No scientifically proven benefits found
</PROS>

<CONS>
• Each evidence-supported risk or concern [n]
• One point per line, starting with •
• If no evidence-based cons exist, include ONLY something like: • No scientifically proven risks found
</CONS>

IMPORTANT:
- Use ONLY the exact markers <PROS>, </PROS>, <CONS>, </CONS>
- Start each point with • (bullet point)
- End a point with [n] when it is supported by the n-th source you used
- If no evidence exists for pros or cons, explicitly state that`

const userPromptTemplate = `The user has asked something about: %q Give the pros and cons after having searched answers in scientific and peer-reviewed publications exclusively, not low-quality media. Only search in sites like https://pubmed.ncbi.nlm.nih.gov/, https://jamanetwork.com/ or https://www.ncbi.nlm.nih.gov/guide/all/.
- CRITICAL: Format your response EXACTLY as follows, using these EXACT markers: <PROS>, </PROS>, <CONS>, </CONS>
- Start each pro or con point with • (bullet point).
inurl:'pubmed.ncbi.nlm.nih.gov', inurl:'jamanetwork.com', inurl:'ncbi.nlm.nih.gov'`

// EnhanceUserPrompt restates question with the source restrictions and the
// output grammar.
func EnhanceUserPrompt(question string) string {
	return fmt.Sprintf(userPromptTemplate, question)
}
