// Command anonymizer strips or tokenizes personally-identifying fields from
// a dataset of resume-like records.
//
//	anonymizer run --in dataset.json --out anonymized.json --reversible
//	anonymizer restore --in anonymized.json --mapping anonymizer_mapping.json --out restored.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/biaszero/anonymizer-go/internal/anonymize"
	"github.com/biaszero/anonymizer-go/internal/config"
	"github.com/biaszero/anonymizer-go/internal/detect"
	"github.com/biaszero/anonymizer-go/internal/mapping"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := &cobra.Command{
		Use:           "anonymizer",
		Short:         "Anonymize resume-like records for bias analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newRestoreCmd())

	if err := root.Execute(); err != nil {
		slog.Error("anonymizer failed", "err", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		inPath      string
		outPath     string
		reversible  bool
		mappingPath string
		policyPath  string
		salt        string
		detectorURL string
		storeKind   string
		dropNumeric bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Anonymize a dataset file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			// Flags win over environment.
			if cmd.Flags().Changed("reversible") {
				cfg.Reversible = reversible
			}
			if mappingPath != "" {
				cfg.MappingPath = mappingPath
			}
			if policyPath != "" {
				cfg.PolicyFile = policyPath
			}
			if salt != "" {
				cfg.Salt = salt
			}
			if detectorURL != "" {
				cfg.DetectorURL = detectorURL
			}
			if storeKind != "" {
				cfg.StoreKind = storeKind
			}
			if cmd.Flags().Changed("drop-numeric") {
				cfg.PreserveNumericFeatures = !dropNumeric
			}
			return runAnonymize(cmd.Context(), cfg, inPath, outPath)
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "", "input dataset JSON file (array of records)")
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&reversible, "reversible", false, "persist a reversal mapping")
	cmd.Flags().StringVar(&mappingPath, "mapping", "", "mapping destination path")
	cmd.Flags().StringVar(&policyPath, "policy", "", "TOML policy file overriding the default field set")
	cmd.Flags().StringVar(&salt, "salt", "", "salt for hashed masks")
	cmd.Flags().StringVar(&detectorURL, "detector-url", "", "bias detector sidecar base URL")
	cmd.Flags().StringVar(&storeKind, "store", "", "mapping backend: file or sqlite")
	cmd.Flags().BoolVar(&dropNumeric, "drop-numeric", false, "remove numeric features instead of masking")
	cmd.MarkFlagRequired("in")
	return cmd
}

func runAnonymize(ctx context.Context, cfg *config.Cfg, inPath, outPath string) error {
	records, err := readRecords(inPath)
	if err != nil {
		return err
	}

	policy := anonymize.Policy{}
	if cfg.PolicyFile != "" {
		policy, err = anonymize.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
	}

	var store mapping.Store
	if cfg.Reversible {
		switch cfg.StoreKind {
		case "sqlite":
			s, err := mapping.NewSQLite(cfg.MappingPath)
			if err != nil {
				return err
			}
			defer s.Close()
			store = s
		default:
			store = mapping.NewFile(cfg.MappingPath)
		}
	}

	var detected *detect.Fields
	if cfg.DetectorURL != "" {
		dctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		detected, err = detect.NewClient(cfg.DetectorURL).DetectedFields(dctx, records)
		cancel()
		if err != nil {
			return fmt.Errorf("detector: %w", err)
		}
		if detected != nil {
			slog.Info("detector hint received", "fields", len(detected.All), "records", len(detected.ByRecord))
		}
	}

	a := anonymize.New(anonymize.Options{
		Reversible:              cfg.Reversible,
		PreserveNumericFeatures: cfg.PreserveNumericFeatures,
		Salt:                    cfg.Salt,
		Policy:                  policy,
		Store:                   store,
	})

	out, doc, err := a.AnonymizeDataset(records, detected)
	if werr := writeJSON(outPath, out); werr != nil {
		return werr
	}
	if err != nil {
		// Anonymized output is written; only reversibility is lost.
		return err
	}
	if doc != nil {
		slog.Info("mapping persisted", "run_id", doc.RunID, "entries", len(doc.Entries), "path", cfg.MappingPath)
	}
	slog.Info("dataset anonymized", "records", len(out))
	return nil
}

func newRestoreCmd() *cobra.Command {
	var (
		inPath      string
		outPath     string
		mappingPath string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Re-identify an anonymized dataset using its mapping document",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := mapping.Load(mappingPath)
			if err != nil {
				return err
			}
			records, err := readRecords(inPath)
			if err != nil {
				return err
			}
			restored, err := anonymize.RestoreRecords(records, doc)
			if err != nil {
				return err
			}
			if err := writeJSON(outPath, restored); err != nil {
				return err
			}
			slog.Info("dataset restored", "records", len(restored), "run_id", doc.RunID)
			return nil
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "", "anonymized dataset JSON file")
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&mappingPath, "mapping", "anonymizer_mapping.json", "mapping document path")
	cmd.MarkFlagRequired("in")
	return cmd
}

func readRecords(path string) ([]anonymize.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []anonymize.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}

func writeJSON(path string, v any) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
