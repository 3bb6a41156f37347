package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/doctalk/internal/models"
)

const groundingTemplate = `Document Type: {{.kind}}
Document Title: {{.title}}

Context for your reference (do not reveal this to user):
{{range .references}}
Reference {{.Number}}{{if .Page}} (page {{.Page}}){{end}}{{if .Section}} [{{.Section}}]{{end}}:
{{.Text}}
{{end}}
Question: {{.question}}

Please provide a clear and well-structured answer based on the context above.
Use markdown formatting to enhance readability where appropriate.
{{if .cite}}When you rely on a reference, cite it as [Reference N].{{else}}Do not mention that you're using references or cite them directly in your response.{{end}}`

var groundingPrompt = prompts.NewPromptTemplate(groundingTemplate,
	[]string{"kind", "title", "references", "question", "cite"})

type reference struct {
	Number  int
	Page    int
	Section string
	Text    string
}

// BuildPrompt renders the grounding prompt for one batch of fragments. The
// same inputs always produce the same prompt.
func BuildPrompt(meta models.DocumentMetadata, query string, fragments []models.RankedFragment, cite bool) (string, error) {
	refs := make([]reference, len(fragments))
	for i, f := range fragments {
		refs[i] = reference{
			Number:  i + 1,
			Page:    f.Page,
			Section: f.Section,
			Text:    f.Text,
		}
	}

	prompt, err := groundingPrompt.Format(map[string]any{
		"kind":       string(meta.Kind),
		"title":      meta.Title,
		"references": refs,
		"question":   query,
		"cite":       cite,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return prompt, nil
}
