package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pkgraph/pkgraph-go/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the mapping specification",
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a mapping specification without ingesting anything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Schema.Path
		if len(args) == 1 {
			path = args[0]
		}

		s, err := schema.Load(path)
		if err != nil {
			return err
		}

		fmt.Printf("%s: OK\n", path)
		for sourceType := range s.Sources {
			src, _ := s.Source(sourceType)
			fmt.Printf("  %-20s -> %s (%d properties, %d edge rules)\n",
				sourceType, src.Entity, len(src.Properties), len(src.Edges))
		}
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaValidateCmd)
}
