package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type modelInfo struct {
	ID          string   `json:"id"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Tiers       []string `json:"tiers,omitempty"`
	Reasoning   bool     `json:"reasoning,omitempty"`
	InputPer1M  float64  `json:"inputPer1M"`
	OutputPer1M float64  `json:"outputPer1M"`
}

func newModelsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models, tiers and pricing",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			catalog, err := a.cfg.Catalog.Build()
			if err != nil {
				return err
			}

			tiersByID := make(map[string][]string)
			for tier, id := range catalog.Tiers() {
				tiersByID[id] = append(tiersByID[id], tier)
			}

			var models []modelInfo
			for _, e := range catalog.Entries() {
				tiers := tiersByID[e.ID()]
				sort.Strings(tiers)
				models = append(models, modelInfo{
					ID:          e.ID(),
					Provider:    e.Provider,
					Model:       e.Model,
					Tiers:       tiers,
					Reasoning:   e.Reasoning,
					InputPer1M:  e.Pricing.InputPer1M,
					OutputPer1M: e.Pricing.OutputPer1M,
				})
			}
			sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tTIERS\tIN $/1M\tOUT $/1M")
			for _, m := range models {
				tiers := "-"
				if len(m.Tiers) > 0 {
					tiers = fmt.Sprint(m.Tiers)
				}
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%.3f\n", m.ID, tiers, m.InputPer1M, m.OutputPer1M)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
