// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/validation"
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return &reg, nil
}

// Save writes the registry back with a refreshed lastUpdated stamp.
func Save(reg *ActivityRegistry, path string, now time.Time) error {
	reg.LastUpdated = now.UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Find returns the activity registered for taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Check reports structural problems: missing ids, duplicates, unknown statuses, bad timeouts and
// input schemas that do not compile.
func (r *ActivityRegistry) Check() []string {
	var problems []string
	if len(r.Activities) == 0 {
		return []string{"registry contains no activities"}
	}

	ids := map[string]bool{}
	taskTypes := map[string]bool{}
	for i, a := range r.Activities {
		where := fmt.Sprintf("activities[%d]", i)
		if a.ID == "" {
			problems = append(problems, where+": missing id")
		} else if ids[a.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate id %s", where, a.ID))
		}
		ids[a.ID] = true

		if a.TaskType == "" {
			problems = append(problems, where+": missing taskType")
		} else if taskTypes[a.TaskType] {
			problems = append(problems, fmt.Sprintf("%s: duplicate taskType %s", where, a.TaskType))
		}
		taskTypes[a.TaskType] = true

		if a.ImplementationStatus != "" && !ImplementationStatuses[a.ImplementationStatus] {
			problems = append(problems, fmt.Sprintf("%s: unknown implementationStatus %q", where, a.ImplementationStatus))
		}
		if a.Timeout != "" {
			if _, err := time.ParseDuration(a.Timeout); err != nil {
				problems = append(problems, fmt.Sprintf("%s: invalid timeout %q", where, a.Timeout))
			}
		}
		if len(a.InputSchema) > 0 {
			if _, err := validation.CompileMap(a.InputSchema); err != nil {
				problems = append(problems, fmt.Sprintf("%s: input schema: %v", where, err))
			}
		}
	}
	return problems
}

// InputValidator checks raw job variables before a handler decodes them.
type InputValidator interface {
	ValidateInput(taskType string, variables []byte) error
}

// SchemaValidator validates job variables against the compiled input schemas of a registry.
type SchemaValidator struct {
	schemas map[string]*validation.Schema
}

func NewSchemaValidator(reg *ActivityRegistry) (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: map[string]*validation.Schema{}}
	for _, a := range reg.Activities {
		if len(a.InputSchema) == 0 {
			continue
		}
		s, err := validation.CompileMap(a.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("input schema for %s: %w", a.TaskType, err)
		}
		v.schemas[a.TaskType] = s
	}
	return v, nil
}

// ValidateInput returns an INVALID_INPUT error listing every schema violation. Task types without
// a schema pass.
func (v *SchemaValidator) ValidateInput(taskType string, variables []byte) error {
	s, ok := v.schemas[taskType]
	if !ok {
		return nil
	}

	res, err := s.ValidateBytes(variables)
	if err != nil {
		return errors.NewInvalidInputError(fmt.Sprintf("%s: %v", taskType, err))
	}
	if res.Valid {
		return nil
	}
	return errors.NewInvalidInputError(strings.Join(res.Messages(), "; "))
}
