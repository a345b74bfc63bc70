// Package cli implements nlsqlctl, the operator tool for running the query engine offline and
// maintaining the activity registry.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nlsql-workers/internal/common/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the nlsqlctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "nlsqlctl",
		Short:         "Operate the NL-to-SQL engine",
		Long:          "Extract concepts, validate and compile visual query specs, check SQL safety and edit the activity registry.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewCheckSQLCommand(opts))
	cmd.AddCommand(NewRegistryCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// engineLogger is silent unless --verbose is set.
func engineLogger(opts *RootOptions) logger.Logger {
	if opts.Verbose {
		return logger.NewStructured("debug", "console")
	}
	return logger.NewNoOpLogger()
}
