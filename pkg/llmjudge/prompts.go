package llmjudge

import (
	"bytes"
	"text/template"
)

const submitToolName = "submit_score"

var (
	systemPromptTemplate = template.Must(template.New("systemPrompt").Parse(
		`You are a specialized LLM evaluator. Your **one and only job** is to score a [MODEL_RESPONSE] against the criterion below.

### Criterion

{{.Criteria}}

### Scoring

* Score on a continuous scale from 0.0 (fails the criterion entirely) to 1.0 (fully satisfies it).
* Judge the SEMANTIC CONTENT of the response, not its format or phrasing.
* Think step by step before deciding, and record that reasoning as chainOfThought.
{{if .Reference}}
<ground_truth_reference>
{{.Reference}}
</ground_truth_reference>

Use the reference as the ground truth when the criterion concerns correctness.
{{end}}
You MUST always respond by calling the ` + "`" + submitToolName + "`" + ` tool with:
- score: number between 0.0 and 1.0
- reason: short explanation referencing the criterion
- chainOfThought: your step by step reasoning

Do not add any conversational text.
`))

	userPromptTemplate = template.Must(template.New("userPrompt").Parse(
		`<user_prompt_context>
{{.Input}}
</user_prompt_context>

<model_output_to_evaluate>
{{.Output}}
</model_output_to_evaluate>

Score the content in <model_output_to_evaluate> against the criterion.
`))
)

type SystemPromptData struct {
	Criteria  string
	Reference string
}

type UserPromptData struct {
	Input  string
	Output string
}

func BuildSystemPrompt(data SystemPromptData) (string, error) {
	var out bytes.Buffer
	err := systemPromptTemplate.Execute(&out, data)
	if err != nil {
		return "", err
	}

	return out.String(), nil
}

func BuildUserPrompt(data UserPromptData) (string, error) {
	var out bytes.Buffer
	err := userPromptTemplate.Execute(&out, data)
	if err != nil {
		return "", err
	}

	return out.String(), nil
}
