package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/querydesk/sql-copilot/internal/errors"
	"github.com/querydesk/sql-copilot/internal/llm"
	"github.com/querydesk/sql-copilot/internal/schema"
)

// GenerateInput carries everything the generator may condition on for one
// turn. On the first turn PreviousQuery and Feedback are empty.
type GenerateInput struct {
	Request       string
	References    string
	Examples      []Example
	Turn          int
	PreviousQuery string
	Feedback      string
}

// Example is a previously answered request paired with the query that
// answered it, retrieved by semantic similarity
type Example struct {
	Request string
	SQL     string
}

// QueryGenerator produces a candidate query for a turn. Implementations
// must treat the inputs as the complete context: the controller threads
// feedback and the prior query through this struct rather than holding
// conversation state inside the generator.
type QueryGenerator interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

// LLMGenerator generates candidate queries through an LLM client
type LLMGenerator struct {
	client llm.Client
	desc   *schema.Descriptor
}

// NewLLMGenerator creates a generator backed by the given LLM client
func NewLLMGenerator(client llm.Client, desc *schema.Descriptor) *LLMGenerator {
	return &LLMGenerator{client: client, desc: desc}
}

// Generate builds the turn prompt, calls the model and returns the raw
// candidate text. An empty or unusable completion is a generation error.
func (g *LLMGenerator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	prompt := g.BuildPrompt(in)

	resp, err := g.client.GenerateSQL(ctx, prompt)
	if err != nil {
		return "", errors.NewGenerationError(err)
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return "", errors.NewGenerationError(fmt.Errorf("model returned no usable query"))
	}
	return resp.SQL, nil
}

// BuildPrompt assembles the generation prompt deterministically from the
// turn inputs. Same inputs, same prompt: prompt construction is pure so
// turn behavior is reproducible from the trace.
func (g *LLMGenerator) BuildPrompt(in GenerateInput) string {
	var b strings.Builder

	b.WriteString("Schema:\n")
	b.WriteString(g.desc.SchemaText())
	b.WriteString("\n")

	if vocab := g.desc.VocabularyText(); vocab != "" {
		b.WriteString("\nDomain vocabulary:\n")
		b.WriteString(vocab)
	}

	if in.References != "" {
		b.WriteString("\n")
		b.WriteString(in.References)
	}

	if hint := g.desc.Prompts.DialectHint; hint != "" {
		b.WriteString(fmt.Sprintf("\nDialect: %s\n", hint))
	}

	for _, ex := range in.Examples {
		b.WriteString(fmt.Sprintf("\nExample request: %s\nExample query: %s\n", ex.Request, ex.SQL))
	}

	b.WriteString(fmt.Sprintf("\nRequest: %s\n", in.Request))

	if in.Turn > 0 && in.PreviousQuery != "" {
		b.WriteString(fmt.Sprintf("\nYour previous attempt:\n%s\n", in.PreviousQuery))
	}
	if in.Turn > 0 && in.Feedback != "" {
		b.WriteString(fmt.Sprintf("\nCorrection needed: %s\nProduce a revised query addressing this.\n", in.Feedback))
	}

	b.WriteString("\nRespond with a single SQL SELECT statement.")
	return b.String()
}
