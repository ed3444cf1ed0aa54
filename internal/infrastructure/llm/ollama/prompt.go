package ollama

import (
	"fmt"
	"strings"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

const maxPromptChunkChars = 4000

func clip(text string) string {
	if len(text) > maxPromptChunkChars {
		return text[:maxPromptChunkChars]
	}
	return text
}

func renderKBContext(b *strings.Builder, chunks []domain.ParentChunk) {
	for i, chunk := range chunks {
		fmt.Fprintf(b, "[Source %d] file=%s\n%s\n\n", i+1, chunk.Filename, clip(chunk.Text))
	}
}

func renderWebContext(b *strings.Builder, results []domain.WebResult) {
	for i, res := range results {
		fmt.Fprintf(b, "[Web %d: %s] %s\n%s\n\n", i+1, res.SourceURL, res.Title, clip(res.Snippet))
	}
}

func buildGradePrompt(question string, kbContext []domain.ParentChunk) string {
	var ctx strings.Builder
	renderKBContext(&ctx, kbContext)

	return fmt.Sprintf(`You judge whether retrieved context can answer a question.
Return strict JSON: {"grade": "sufficient" | "partial" | "insufficient"}.
sufficient: the context alone fully answers the question.
partial: the context helps but misses part of the answer.
insufficient: the context is irrelevant to the question.
No markdown, no extra keys.

Question:
%s

Context:
%s`, question, ctx.String())
}

func buildGroundingPrompt(draft string, kbContext []domain.ParentChunk, webContext []domain.WebResult) string {
	var ctx strings.Builder
	renderKBContext(&ctx, kbContext)
	renderWebContext(&ctx, webContext)

	return fmt.Sprintf(`You verify that an answer is supported by its source context.
Return strict JSON: {"grounded": true|false, "unsupported_claim": string}.
grounded is false when the answer states anything the context does not support;
put the worst offending claim in unsupported_claim, otherwise leave it empty.
No markdown, no extra keys.

Answer:
%s

Context:
%s`, draft, ctx.String())
}

func buildIntentPrompt(question string) string {
	return fmt.Sprintf(`You decide whether a message is small talk or a real question.
Return strict JSON: {"chatter": true|false}.
chatter is true only for greetings, thanks and social pleasantries that need
no factual lookup. Anything asking for information is not chatter.
No markdown, no extra keys.

Message:
%s`, clip(question))
}

func buildRerankPrompt(query string, texts []string) string {
	var passages strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&passages, "[%d]\n%s\n\n", i+1, clip(text))
	}

	return fmt.Sprintf(`You score how relevant each passage is to the query.
Return strict JSON: {"scores": [..]} with one number from 0 to 1 per passage,
in passage order. No markdown, no extra keys.

Query:
%s

Passages:
%s`, query, passages.String())
}

func buildAnswerPrompt(in ports.GenerationInput) string {
	if in.Chatter {
		return fmt.Sprintf(`You are a friendly assistant. Reply briefly and naturally
to the message below. Do not invent facts or cite sources.

Message:
%s`, clip(in.Question))
	}

	var ctx strings.Builder
	renderKBContext(&ctx, in.KBContext)
	renderWebContext(&ctx, in.WebContext)

	var b strings.Builder
	b.WriteString("Answer the question using only the context below.\n")
	b.WriteString("Cite knowledge-base passages as [Source n] and web passages as [Web n].\n")
	if ctx.Len() == 0 {
		b.WriteString("There is no context: say directly that you could not find supporting material.\n")
	} else {
		b.WriteString("If the context does not cover part of the question, say so instead of guessing.\n")
	}
	if in.Degraded {
		b.WriteString("Web search was unavailable for this turn; note that the answer may be incomplete.\n")
	}
	if in.PriorFailure != "" {
		fmt.Fprintf(&b, `
A previous draft failed verification because this claim was unsupported:
%q
Do not repeat it unless the context backs it.
`, in.PriorFailure)
	}

	fmt.Fprintf(&b, "\nQuestion:\n%s\n\nContext:\n%s", in.Question, ctx.String())
	return b.String()
}
