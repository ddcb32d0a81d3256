// cmd/aggregate.go
package cmd

import (
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/grocery"
)

func newAggregateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "aggregate [ingredients.json]",
		Short: "Merge recipe ingredients into a shopping list",
		Long: `Reads a JSON array of {"name","quantity","unit","recipe"} objects from the
given file, or from stdin when the file is "-" or omitted, and prints one line
per ingredient with compatible units summed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open ingredients: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runAggregate(in, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the shopping list as JSON")
	return cmd
}

func runAggregate(in io.Reader, out io.Writer, asJSON bool) error {
	var items []grocery.Ingredient
	if err := json.NewDecoder(in).Decode(&items); err != nil {
		return fmt.Errorf("failed to decode ingredients: %w", err)
	}
	list := grocery.Aggregate(items)

	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	}
	for _, line := range list {
		if _, err := fmt.Fprintln(out, line.String()); err != nil {
			return err
		}
	}
	return nil
}
