package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ashureev/cvstudio/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	dbPath string
	output string
}

// loadConfig reads the optional env files, then the environment, the same
// way the server does. Flag defaults come from the result.
func loadConfig(envFiles ...string) (*config.Config, error) {
	_ = godotenv.Load(envFiles...)
	return config.Load()
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "cvctl",
		Short: "Inspect CV sessions and preview layout clamping",
		Long: `cvctl works directly against the cvstudio SQLite database.

Examples:
  cvctl session show <session-id>
  cvctl session readiness <session-id> --strict
  cvctl clamp --tier squeeze --in cv.json`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", cfg.DBPath, "Path to the SQLite database")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format: json or yaml")

	root.AddCommand(newSessionCmd(opts), newClampCmd(opts, cfg.ClampProfilePath))
	return root
}

// write encodes v as JSON or YAML. YAML goes through JSON first so field
// names match the API.
func write(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	}
	return fmt.Errorf("unknown output format %q", format)
}
