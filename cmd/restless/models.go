package main

import (
	"encoding/json"
	"io"

	"github.com/edgeflare/restless/pkg/model"
	"github.com/edgeflare/restless/pkg/pgx/schema"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Print the declared and reflected models as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var tables map[string]schema.Table
		if cfg.Database.Reflect {
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			tables = db.schema.Snapshot()
		}

		catalog, err := buildCatalog(cfg, tables)
		if err != nil {
			return err
		}
		return printModels(cmd.OutOrStdout(), catalog)
	},
}

func printModels(w io.Writer, catalog *model.Catalog) error {
	defs := make([]model.Definition, 0, len(catalog.Models()))
	for _, m := range catalog.Models() {
		defs = append(defs, m.Definition())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(defs)
}
