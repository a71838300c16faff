package orchestrator

import (
	"context"
	"fmt"

	"github.com/neurodesk/neurodesk-go/internal/logging"
)

// summaryPrompt asks the model for a short document abstract.
const summaryPrompt = `You are a document assistant. Write a summary of the document below in at
most three sentences. State what the document is and what it covers. Do not
editorialize.`

// maxSummaryInputChars bounds how much of the document feeds the summary
// request. The opening of a document is almost always enough for a
// three-sentence abstract.
const maxSummaryInputChars = 12000

// Summarize produces a short abstract of a freshly indexed document using the
// provider chain, so a summary survives a primary backend outage.
func (o *Orchestrator) Summarize(ctx context.Context, filename, text string) (string, error) {
	head := text
	if len(head) > maxSummaryInputChars {
		head = head[:maxSummaryInputChars]
	}
	prompt := fmt.Sprintf("Document %q:\n\n%s", filename, head)

	summary, providerName := o.generate(ctx, logging.FromContext(ctx), summaryPrompt, prompt)
	if providerName == "" {
		return "", fmt.Errorf("orchestrator: summarizing %q: all providers failed", filename)
	}
	return summary, nil
}
