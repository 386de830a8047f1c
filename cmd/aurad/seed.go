package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aura-dx/aura/config"
	"github.com/aura-dx/aura/internal/casebase"
	"github.com/aura-dx/aura/internal/diagnosis"
	"github.com/aura-dx/aura/internal/ehr"
	"github.com/aura-dx/aura/internal/store"
)

func seedCMD() *cobra.Command {
	var cfgPath string
	var patientsFile string

	var seed = &cobra.Command{
		Use:   "seed",
		Short: "Load demo patients and validate the case corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.Close()

			raw, err := os.ReadFile(patientsFile)
			if err != nil {
				return err
			}
			var patients []diagnosis.PatientRecord
			if err := json.Unmarshal(raw, &patients); err != nil {
				return fmt.Errorf("failed to parse %s: %w", patientsFile, err)
			}

			dir := ehr.NewDirectory(st.DB)
			for _, p := range patients {
				id, err := dir.CreatePatient(ctx, p)
				if err != nil {
					return fmt.Errorf("failed to create patient %q: %w", p.Name, err)
				}
				fmt.Printf("created patient %d: %s\n", id, p.Name)
			}

			if cfg.Pipeline.CasesFile != "" {
				idx, err := casebase.Load(cfg.Pipeline.CasesFile)
				if err != nil {
					return fmt.Errorf("case corpus failed to load: %w", err)
				}
				fmt.Printf("case corpus ok: %d cases indexed\n", idx.Count())
			}
			return nil
		},
	}
	seed.Flags().StringVar(&patientsFile, "patients", "data/patients.json", "patients JSON file")
	seed.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return seed
}
