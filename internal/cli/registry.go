package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"nlsql-workers/pkg/registry"
)

// DefaultRegistryPath is where the worker manager reads activities from.
const DefaultRegistryPath = "configs/activities.json"

// NewRegistryCommand groups the activity registry maintenance commands.
func NewRegistryCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and edit the activity registry",
	}
	cmd.PersistentFlags().StringVar(&path, "path", DefaultRegistryPath, "path to registry file")

	cmd.AddCommand(newRegistryValidateCommand(rootOpts, &path))
	cmd.AddCommand(newRegistryAddCommand(rootOpts, &path))
	cmd.AddCommand(newRegistryUpdateCommand(rootOpts, &path))
	return cmd
}

func newRegistryValidateCommand(rootOpts *RootOptions, path *string) *cobra.Command {
	return &cobra.Command{
		Use:          "validate",
		Short:        "Check the registry for duplicates and broken schemas",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			reg, err := registry.LoadRegistry(*path)
			if err != nil {
				return WrapExitError(ExitCommandError, "load registry", err)
			}
			if problems := reg.Check(); len(problems) > 0 {
				return out.Failure(ExitFailure, "REGISTRY_INVALID", "registry validation failed", problems)
			}
			return out.Success(map[string]int{"activities": len(reg.Activities)},
				fmt.Sprintf("✓ registry valid, %d activities", len(reg.Activities)))
		},
	}
}

func newRegistryAddCommand(rootOpts *RootOptions, path *string) *cobra.Command {
	a := registry.Activity{}

	cmd := &cobra.Command{
		Use:          "add",
		Short:        "Add an activity",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			if a.ID == "" || a.TaskType == "" || a.DisplayName == "" || a.Category == "" {
				return NewExitError(ExitCommandError, "id, task-type, display-name and category are required")
			}

			reg, err := registry.LoadRegistry(*path)
			switch {
			case os.IsNotExist(err):
				reg = &registry.ActivityRegistry{Version: "1.0.0"}
			case err != nil:
				return WrapExitError(ExitCommandError, "load registry", err)
			}

			for _, existing := range reg.Activities {
				if existing.ID == a.ID {
					return out.Failure(ExitFailure, "REGISTRY_CONFLICT", fmt.Sprintf("activity %s already exists", a.ID), nil)
				}
			}

			activity := a
			activity.InputSchema = map[string]interface{}{"type": "object"}
			activity.OutputSchema = map[string]interface{}{"type": "object"}
			activity.ErrorCodes = []string{}
			activity.Tags = []string{}
			reg.Activities = append(reg.Activities, activity)

			if err := registry.Save(reg, *path, time.Now()); err != nil {
				return WrapExitError(ExitCommandError, "save registry", err)
			}
			return out.Success(activity, "added activity "+activity.ID)
		},
	}

	cmd.Flags().StringVar(&a.ID, "id", "", "activity id")
	cmd.Flags().StringVar(&a.TaskType, "task-type", "", "Zeebe task type")
	cmd.Flags().StringVar(&a.DisplayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&a.Description, "description", "", "description")
	cmd.Flags().StringVar(&a.Category, "category", "", "category (nl-query, visual-query)")
	cmd.Flags().StringVar(&a.Version, "version", "1.0.0", "version")
	cmd.Flags().StringVar(&a.ImplementationStatus, "status", "planned", "implementation status")
	cmd.Flags().StringVar(&a.Timeout, "timeout", "10s", "job timeout")
	cmd.Flags().IntVar(&a.Retries, "retries", 3, "job retries")
	return cmd
}

func newRegistryUpdateCommand(rootOpts *RootOptions, path *string) *cobra.Command {
	var id, field, value string

	cmd := &cobra.Command{
		Use:          "update",
		Short:        "Update one field of an activity",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			if id == "" || field == "" || value == "" {
				return NewExitError(ExitCommandError, "id, field and value are required")
			}

			reg, err := registry.LoadRegistry(*path)
			if err != nil {
				return WrapExitError(ExitCommandError, "load registry", err)
			}

			var target *registry.Activity
			for i := range reg.Activities {
				if reg.Activities[i].ID == id {
					target = &reg.Activities[i]
					break
				}
			}
			if target == nil {
				return out.Failure(ExitFailure, "REGISTRY_NOT_FOUND", fmt.Sprintf("activity %s not found", id), nil)
			}
			if err := setField(target, field, value); err != nil {
				return WrapExitError(ExitCommandError, "update", err)
			}

			if err := registry.Save(reg, *path, time.Now()); err != nil {
				return WrapExitError(ExitCommandError, "save registry", err)
			}
			return out.Success(target, fmt.Sprintf("updated %s.%s", id, field))
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "activity id")
	cmd.Flags().StringVar(&field, "field", "", "field to update (status, version, displayName, description, category, taskType, timeout, retries)")
	cmd.Flags().StringVar(&value, "value", "", "new value")
	return cmd
}

func setField(a *registry.Activity, field, value string) error {
	switch field {
	case "status":
		if !registry.ImplementationStatuses[value] {
			return fmt.Errorf("unknown status %q", value)
		}
		a.ImplementationStatus = value
	case "version":
		a.Version = value
	case "displayName":
		a.DisplayName = value
	case "description":
		a.Description = value
	case "category":
		a.Category = value
	case "taskType":
		a.TaskType = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		a.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return nil
}
