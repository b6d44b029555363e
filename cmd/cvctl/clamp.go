package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ashureev/cvstudio/internal/clamp"
	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/spf13/cobra"
)

func newClampCmd(root *rootOptions, defaultProfile string) *cobra.Command {
	var (
		tierName    string
		profilePath string
		inPath      string
	)
	cmd := &cobra.Command{
		Use:   "clamp",
		Short: "Apply a clamp tier to CV data and print the result",
		Long: `Reads CV data as JSON (from --in, or stdin when --in is "-") and prints
the data after applying the fix or squeeze tier of the clamp profile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tier, ok := clamp.ParseTier(tierName)
			if !ok {
				return fmt.Errorf("unknown tier %q (want fix or squeeze)", tierName)
			}
			profile, err := clamp.LoadProfile(profilePath)
			if err != nil {
				return err
			}
			limits, ok := profile.For(tier)
			if !ok {
				return fmt.Errorf("tier %q has no clamp limits (want fix or squeeze)", tierName)
			}

			data, err := readCVData(cmd.InOrStdin(), inPath)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), root.output, clamp.Apply(data, limits, nil))
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", "fix", "Clamp tier: fix or squeeze")
	cmd.Flags().StringVar(&profilePath, "profile", defaultProfile, "YAML clamp profile (defaults to built-in limits)")
	cmd.Flags().StringVar(&inPath, "in", "-", "CV data JSON file, or - for stdin")
	return cmd
}

func readCVData(stdin io.Reader, path string) (domain.CVData, error) {
	var r io.Reader = stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return domain.CVData{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	var data domain.CVData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return domain.CVData{}, fmt.Errorf("decode CV data: %w", err)
	}
	return data, nil
}
