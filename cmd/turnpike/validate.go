package main

import (
	"fmt"

	"github.com/aretw0/turnpike"
	"github.com/aretw0/turnpike/pkg/adapters/file"
	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [catalog]",
	Short: "Check the catalog and the pipeline assembly",
	Long:  `Loads the catalog, reports every invalid rule, response or schema, and assembles the step pipeline.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path := cfg.Catalog.Path
		if len(args) > 0 {
			path = args[0]
		}

		doc, err := file.Load(path)
		if err != nil {
			return err
		}
		if err := doc.Validate(); err != nil {
			return fmt.Errorf("catalog %s is invalid:\n%w", path, err)
		}
		catalog, err := memory.NewCatalog(doc.Rules, doc.Responses, doc.Schemas)
		if err != nil {
			return err
		}

		engine, err := turnpike.New(turnpike.WithCatalog(catalog))
		if err != nil {
			return fmt.Errorf("pipeline assembly failed: %w", err)
		}
		defer engine.Close()

		rules, responses, schemas := catalog.Counts()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Catalog %s: %d rules, %d responses, %d schemas\n", path, rules, responses, schemas)
		fmt.Fprintf(out, "Pipeline: %v\n", engine.Steps())
		fmt.Fprintln(out, "Catalog is valid! ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
