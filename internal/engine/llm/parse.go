package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/models"
)

// ParseSQLResponse decodes the completion as a single JSON object. Markdown code fences around the
// object are tolerated; anything else (unknown keys, trailing data, missing sql, confidence outside
// [0,1]) is LLM_RESPONSE_MALFORMED.
func ParseSQLResponse(raw string) (*models.SQLGeneration, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, errors.NewLLMResponseMalformedError(fmt.Errorf("empty completion"))
	}

	var gen models.SQLGeneration
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&gen); err != nil {
		return nil, errors.NewLLMResponseMalformedError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.NewLLMResponseMalformedError(fmt.Errorf("unexpected data after JSON object"))
	}

	gen.SQL = strings.TrimSpace(gen.SQL)
	if gen.SQL == "" {
		return nil, errors.NewLLMResponseMalformedError(fmt.Errorf("missing sql"))
	}
	if gen.Confidence < 0 || gen.Confidence > 1 {
		return nil, errors.NewLLMResponseMalformedError(fmt.Errorf("confidence %v outside [0,1]", gen.Confidence))
	}

	if gen.TablesUsed == nil {
		gen.TablesUsed = []string{}
	}
	if gen.ColumnsUsed == nil {
		gen.ColumnsUsed = []string{}
	}
	gen.QueryType = string(models.NormalizeQueryType(strings.ToLower(strings.TrimSpace(gen.QueryType))))
	return &gen, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
