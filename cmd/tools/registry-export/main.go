// cmd/tools/registry-export/main.go
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fd "followup-dispatcher/internal/workers/campaign/followup-dispatch"
	"followup-dispatcher/pkg/registry"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	outPath := exportCmd.String("out", "configs/activity-registry.json", "Path to write the registry to, - for stdout")

	validateCmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	taskType := validateCmd.String("taskType", fd.TaskType, "Task type whose input schema to check against")
	varsPath := validateCmd.String("vars", "", "Path to a JSON file of job variables")

	if len(args) < 1 {
		help(out)
		return 1
	}

	reg := fd.Registry()

	switch args[0] {
	case "export":
		if err := exportCmd.Parse(args[1:]); err != nil {
			return 1
		}
		if err := exportRegistry(reg, *outPath, out); err != nil {
			fmt.Fprintf(out, "Error exporting registry: %v\n", err)
			return 1
		}
		return 0

	case "validate":
		if err := validateCmd.Parse(args[1:]); err != nil {
			return 1
		}
		if *varsPath == "" {
			fmt.Fprintln(out, "Error: -vars is required for validate.")
			return 1
		}
		ok, err := validateVariables(reg, *taskType, *varsPath, out)
		if err != nil {
			fmt.Fprintf(out, "Error validating variables: %v\n", err)
			return 1
		}
		if !ok {
			return 2
		}
		return 0

	default:
		help(out)
		return 1
	}
}

func exportRegistry(reg *registry.ActivityRegistry, path string, out io.Writer) error {
	data, err := reg.Marshal()
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d activities to %s\n", len(reg.Activities), path)
	return nil
}

func validateVariables(reg *registry.ActivityRegistry, taskType, path string, out io.Writer) (bool, error) {
	activity, ok := reg.Find(taskType)
	if !ok {
		return false, fmt.Errorf("no activity registered for task type %q", taskType)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	result, err := activity.ValidateInput(string(raw))
	if err != nil {
		return false, err
	}
	if !result.Valid {
		fmt.Fprintf(out, "Invalid variables for %s: %s\n", taskType, result.Summary())
		return false, nil
	}
	fmt.Fprintf(out, "Variables are valid for %s\n", taskType)
	return true, nil
}

func help(out io.Writer) {
	fmt.Fprintln(out, "Usage: registry-export <command> [flags]")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  export    Write the activity registry as JSON")
	fmt.Fprintln(out, "  validate  Check job variables against an activity's input schema")
}
