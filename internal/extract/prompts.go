package extract

import "fmt"

// entityExtractionPrompt builds a strict JSON-only prompt for candidate
// mention extraction. Local models drift into markdown or prose unless the
// output contract is spelled out aggressively, so the prompt repeats the
// structure rules and shows the exact shape expected.
func entityExtractionPrompt(content string) string {
	return fmt.Sprintf(`TASK: Extract named entities from text.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

ENTITY KINDS (ONLY these 5):
- person: Individual human
- organization: Company, institution, or group
- location: Place, city, country, or region
- project: Named initiative, product, or work
- other: Any other named entity

REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
Your response MUST have an "entities" key with an array value
Each entity MUST have: name, kind, confidence

Example structure (EXACT FORMAT REQUIRED):
{
  "entities": [
    {"name":"Alice","kind":"person","confidence":0.95},
    {"name":"Acme Corp","kind":"organization","confidence":0.9}
  ]
}

VALIDATION (STRICT):
1. Start with { - End with }
2. "entities" value must be an array
3. Kinds EXACTLY: person|organization|location|project|other
4. Confidence 0.0-1.0
5. Use the exact surface text from the input as the name
6. No trailing commas, no null values, no extra fields

TEXT TO EXTRACT FROM:
%s

RESPOND WITH ONLY THE JSON OBJECT (nothing else):`, content)
}
