package llm

import (
	"context"

	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/models"
)

// SQLChecker rejects SQL that must not run.
type SQLChecker interface {
	Check(ctx context.Context, source, sql string) error
}

// Generator builds the prompt, calls the completer, parses the answer and screens the SQL.
type Generator struct {
	completer Completer
	checker   SQLChecker
	log       logger.Logger
}

func NewGenerator(completer Completer, checker SQLChecker, log logger.Logger) *Generator {
	return &Generator{
		completer: completer,
		checker:   checker,
		log:       log.With(map[string]interface{}{"component": "llm"}),
	}
}

func (g *Generator) Generate(ctx context.Context, in PromptInput) (*models.SQLGeneration, error) {
	prompt := BuildPrompt(in)

	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	gen, err := ParseSQLResponse(raw)
	if err != nil {
		g.log.Warn("completion could not be parsed", map[string]interface{}{
			"error":       err.Error(),
			"responseLen": len(raw),
		})
		return nil, err
	}

	if err := g.checker.Check(ctx, "llm", gen.SQL); err != nil {
		return nil, err
	}

	g.log.Info("SQL generated", map[string]interface{}{
		"confidence": gen.Confidence,
		"queryType":  gen.QueryType,
		"tables":     len(gen.TablesUsed),
	})
	return gen, nil
}
