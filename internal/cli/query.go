package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nlsql-workers/internal/common/errors"
	"nlsql-workers/internal/common/logger"
	"nlsql-workers/internal/engine/compiler"
	"nlsql-workers/internal/engine/concepts"
	"nlsql-workers/internal/engine/mapping"
	"nlsql-workers/internal/engine/safety"
	"nlsql-workers/internal/engine/validator"
	"nlsql-workers/internal/models"
	compilequery "nlsql-workers/internal/workers/visual-query/compile-query"
)

// ==========================
// extract
// ==========================

func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	var mappingsPath, dbAlias string

	cmd := &cobra.Command{
		Use:          "extract <question>",
		Short:        "Extract business concepts from a question",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			snap := mapping.Snapshot{}
			if mappingsPath != "" {
				store, err := mapping.LoadYAMLFile(mappingsPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "load mappings", err)
				}
				list, err := store.Load(cmd.Context(), dbAlias)
				if err != nil {
					return WrapExitError(ExitCommandError, "load mappings", err)
				}
				snap = mapping.NewSnapshot(list)
			}

			bundle := concepts.NewExtractor(time.Now).Extract(strings.Join(args, " "), snap)
			return out.Success(bundle, describeBundle(bundle))
		},
	}

	cmd.Flags().StringVar(&mappingsPath, "mappings", "", "YAML concept mappings file")
	cmd.Flags().StringVar(&dbAlias, "db", "", "database alias used to select mappings")
	return cmd
}

func describeBundle(b models.ConceptBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "question:     %s\n", b.NormalizedQuestion)
	fmt.Fprintf(&sb, "intent:       %s (%.2f)\n", b.Intent.Type, b.Intent.Confidence)
	fmt.Fprintf(&sb, "metrics:      %s\n", strings.Join(b.Metrics, ", "))
	fmt.Fprintf(&sb, "dimensions:   %s\n", strings.Join(b.Dimensions, ", "))
	fmt.Fprintf(&sb, "aggregations: %s\n", strings.Join(b.Aggregations, ", "))
	for _, p := range b.TimePeriods {
		fmt.Fprintf(&sb, "period:       %s %s..%s\n", p.Type, p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	}
	if b.Limit != nil {
		fmt.Fprintf(&sb, "limit:        %d %s\n", *b.Limit, b.OrderBy)
	}
	for _, term := range concepts.SortedTerms(b) {
		fmt.Fprintf(&sb, "mapped:       %s -> %s\n", term, b.MappedTerms[term])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ==========================
// validate
// ==========================

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "validate <spec.json|->",
		Short:        "Validate a visual query spec",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read spec", err)
			}

			spec, err := models.ParseQuerySpec(data)
			if err != nil {
				return specFailure(out, err)
			}

			vr := validator.New(validator.Options{}, nil, engineLogger(rootOpts)).Validate(cmd.Context(), spec)
			if !vr.IsValid {
				return out.Failure(ExitFailure, string(errors.ErrCodeValidationFailed), "query spec is invalid", vr.Errors)
			}
			text := "✓ spec valid"
			for _, w := range vr.Warnings {
				text += "\n  ! " + w
			}
			return out.Success(vr, text)
		},
	}
}

// ==========================
// compile
// ==========================

func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:          "compile <spec.json|->",
		Short:        "Compile a visual query spec to SQL",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read spec", err)
			}
			parameters, err := parseParams(params)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse --param", err)
			}

			log := engineLogger(rootOpts)
			h := compilequery.NewHandler(
				compilequery.LoadConfig(),
				validator.New(validator.Options{}, nil, log),
				compiler.New(compiler.Options{}, nil, log),
				safety.NewGuard(nil, log),
				&compileLogger{log},
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), compilequery.LoadConfig().Timeout)
			defer cancel()

			res, err := h.Execute(ctx, &compilequery.Input{QuerySpec: data, Parameters: parameters})
			if err != nil {
				return specFailure(out, err)
			}
			if !res.Validation.IsValid {
				return out.Failure(ExitFailure, string(errors.ErrCodeValidationFailed), "query spec is invalid", res.Validation.Errors)
			}

			text := res.SQL
			for _, w := range res.Warnings {
				text += "\n-- warning: " + w
			}
			return out.Success(res, text)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as name=value (repeatable)")
	return cmd
}

// parseParams decodes each value as JSON when it parses, otherwise keeps it as a string.
func parseParams(raw []string) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q is not name=value", p)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[name] = decoded
		} else {
			out[name] = value
		}
	}
	return out, nil
}

// ==========================
// check-sql
// ==========================

func NewCheckSQLCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "check-sql <sql|->",
		Short:        "Check that SQL is a single read-only statement",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			sql := strings.Join(args, " ")
			if sql == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "read sql", err)
				}
				sql = string(data)
			}

			if err := safety.Check(sql); err != nil {
				se := errors.Normalize(err)
				return out.Failure(ExitFailure, string(se.Code), se.Message, []string{se.Details})
			}
			return out.Success(map[string]bool{"safe": true}, "✓ safe")
		},
	}
}

// ==========================
// helpers
// ==========================

func readInput(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(arg)
}

func specFailure(out *OutputFormatter, err error) error {
	se := errors.Normalize(err)
	var details interface{} = se.Details
	if problems, ok := se.Metadata["problems"].([]string); ok {
		details = problems
	}
	return out.Failure(ExitFailure, string(se.Code), se.Message, details)
}

type compileLogger struct {
	logger.Logger
}

func (l *compileLogger) With(fields map[string]interface{}) compilequery.Logger {
	return &compileLogger{l.Logger.With(fields)}
}
