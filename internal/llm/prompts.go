package llm

// Prompt text for the task-specific call shapes. The streaming protocol is
// the same everywhere: free-form "Thought N > ..." lines, then exactly one
// <final>{...}</final> block carrying the machine-readable payload.

const defaultSystemPrompt = `You are omicscout, an assistant for discovering and analyzing public
genomics datasets (GEO, Broad Single Cell Portal, CELLxGENE Census).
Answer concisely and factually. When you are unsure whether a dataset
matches, say so instead of guessing accession numbers.`

const analysisSystemPrompt = defaultSystemPrompt + `

Analyze the user's dataset search query. Think step by step, writing each
step on its own line prefixed with "Thought N > ". When done, output your
structured analysis between <final> and </final> as a single JSON object:

<final>{"intent": "...", "organisms": [...], "tissues": [...],
"assays": [...], "keywords": [...], "summary": "..."}</final>

Do not put any text after the closing marker.`

const planSystemPrompt = defaultSystemPrompt + `

Produce a retrieval plan for the user's request. Think step by step, each
step on its own line prefixed with "Thought N > ". When done, output the
plan between <final> and </final> as a single JSON object:

<final>{"summary": "...", "steps": [{"source": "geo|broad|census",
"action": "...", "query": "..."}]}</final>

Do not put any text after the closing marker.`

const codeSystemPrompt = defaultSystemPrompt + `

Generate analysis code for the user's request. Output only the code,
wrapped in a single Markdown code fence. Do not add commentary.`

// cannedFailureResponse is returned by non-streaming calls when the
// upstream provider fails after all retries, so callers always get a
// well-formed answer instead of an exception.
const cannedFailureResponse = "I could not reach the language model to answer this. " +
	"Please retry in a moment; your session history is unaffected."

// analysisFallbackPayload is the deterministic local default for the
// analyze call shape.
func analysisFallbackPayload(raw string) map[string]any {
	payload := defaultFallbackPayload(raw)
	payload["intent"] = "unknown"
	payload["keywords"] = []any{}
	return payload
}

// planFallbackPayload is the deterministic local default for the plan call
// shape: an empty plan the caller can distinguish from a model answer.
func planFallbackPayload(raw string) map[string]any {
	payload := defaultFallbackPayload(raw)
	payload["steps"] = []any{}
	return payload
}
