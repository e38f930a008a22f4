package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehr/rips/internal/platform/rips"
)

// cliEngine loads configuration and builds the engine for one-shot commands.
// Logs go to stderr so stdout carries only the JSON result.
func cliEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	return newEngine(withContext(cmd), cfg, logger)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// readBatch reads a JSON object keyed by file type code.
func readBatch(path string) (map[string][]rips.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var files map[string][]rips.Record
	if err := decodeJSON(data, &files); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: batch has no files", path)
	}
	return files, nil
}

// readRecords reads a JSON array of records, or a fixed-width file when
// schema is non-nil.
func readRecords(path string, schema *rips.FileTypeSchema) ([]rips.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		return rips.DecodeFile(schema, data)
	}
	var records []rips.Record
	if err := decodeJSON(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}

func structureCmd() *cobra.Command {
	var version, fileType string
	cmd := &cobra.Command{
		Use:   "structure",
		Short: "Print the field layout of a format version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := rips.MustDefaultRegistry()
			if fileType != "" {
				schema, err := reg.Schema(version, fileType)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), schema)
			}
			v, err := reg.Version(version)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringVar(&version, "version", rips.Version2275, "format version")
	cmd.Flags().StringVar(&fileType, "file-type", "", "single file type code")
	return cmd
}

func validateCmd() *cobra.Command {
	var version, fileType string
	var fixed bool
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate the records of one file type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := cliEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			var schema *rips.FileTypeSchema
			if fixed {
				if schema, err = eng.pipeline.Registry().Schema(version, fileType); err != nil {
					return err
				}
			}
			records, err := readRecords(args[0], schema)
			if err != nil {
				return err
			}

			res, err := eng.pipeline.ValidateData(withContext(cmd), version, fileType, records)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Aggregate.Rejected > 0 {
				return fmt.Errorf("%d of %d records rejected", res.Aggregate.Rejected, res.Aggregate.Records)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", rips.Version2275, "format version")
	cmd.Flags().StringVar(&fileType, "file-type", "", "file type code")
	cmd.Flags().BoolVar(&fixed, "fixed", false, "input is a fixed-width file instead of JSON")
	_ = cmd.MarkFlagRequired("file-type")
	return cmd
}

func generateCmd() *cobra.Command {
	var version, format, outDir string
	cmd := &cobra.Command{
		Use:   "generate [batch.json]",
		Short: "Generate RIPS files from a batch of records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := rips.ParseOutputKind(format)
			if err != nil {
				return err
			}
			files, err := readBatch(args[0])
			if err != nil {
				return err
			}
			eng, err := cliEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			ctx, stop := signal.NotifyContext(withContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := eng.pipeline.Generate(ctx, version, files, kind)
			if err != nil {
				return err
			}
			if err := writeFiles(outDir, res.Files); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&version, "version", rips.Version2275, "format version")
	cmd.Flags().StringVar(&format, "format", "fixed", "output kind: fixed, delimited or markup")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}

// writeFiles is only called once the whole batch has been generated, so a
// failed or interrupted run leaves no partial output behind.
func writeFiles(dir string, files []rips.EncodedFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}

func compareCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Report structural differences between two format versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := rips.NewMigrator(rips.MustDefaultRegistry(), rips.DefaultCorrespondence())
			report, err := m.Compare(from, to)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&from, "from", rips.Version3374, "source format version")
	cmd.Flags().StringVar(&to, "to", rips.Version2275, "target format version")
	return cmd
}

func convertCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "convert [batch.json]",
		Short: "Migrate a batch of legacy records into a newer format version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readBatch(args[0])
			if err != nil {
				return err
			}
			m := rips.NewMigrator(rips.MustDefaultRegistry(), rips.DefaultCorrespondence())
			res, err := m.Migrate(from, to, files)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&from, "from", rips.Version3374, "source format version")
	cmd.Flags().StringVar(&to, "to", rips.Version2275, "target format version")
	return cmd
}

func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
