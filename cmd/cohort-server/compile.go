package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cohort/cohort/internal/config"
	"github.com/cohort/cohort/internal/domain/cohort"
	"github.com/cohort/cohort/internal/platform/auth"
	"github.com/cohort/cohort/internal/platform/db"
)

func compileCmd() *cobra.Command {
	var (
		file        string
		dialectName string
		count       bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a query definition to SQL",
		Long: "Compile a YAML or JSON query definition to SQL. With --count the\n" +
			"compiled count statement is also run against the clinical database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := readQuery(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			cfg, err := compileConfig(count)
			if err != nil {
				return err
			}
			compiler, err := newCompiler(cfg, dialectName)
			if err != nil {
				return err
			}

			ctx := context.Background()
			var (
				warehouse cohort.Warehouse
				concepts  cohort.ConceptRepository
			)
			if count {
				if compiler.Dialect().Name() != "postgres" {
					return cohort.ErrExecutionDisabled
				}
				pool, err := db.NewPool(ctx, cfg.ClinicalDatabaseURL, 2, 0, "cohort-cli")
				if err != nil {
					return err
				}
				defer pool.Close()
				warehouse = cohort.NewWarehousePG(pool)
				concepts = cohort.NewConceptRepoPG(pool)
			}

			svc := cohort.NewService(compiler, nil, concepts, warehouse, cfg.QueryTimeout, zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel))
			return runCompile(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), svc, q, count, asJSON)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "query definition file (YAML or JSON), - for stdin")
	cmd.Flags().StringVar(&dialectName, "dialect", "", "SQL dialect, overriding SQL_DIALECT (sqlserver|postgres)")
	cmd.Flags().BoolVar(&count, "count", false, "run the count statement against the clinical database")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// compileConfig loads configuration for the compile command. Compiling needs
// no database, so DATABASE_URL is only required with --count.
func compileConfig(needDB bool) (*config.Config, error) {
	if needDB {
		return config.Load()
	}
	return config.LoadOffline()
}

// readQuery decodes a query from path, or from stdin when path is "-".
// YAML is a superset of JSON, so one decoder serves both.
func readQuery(stdin io.Reader, path string) (*cohort.Query, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}

	q := &cohort.Query{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(q); err != nil {
		return nil, fmt.Errorf("decode query %s: %w", path, err)
	}
	return q, nil
}

type compileOutput struct {
	*cohort.CompileResult
	Count *int64 `json:"count,omitempty"`
}

// operator is the identity the compile command acts under. Query files come
// from whoever runs the binary, so their inline concept SQL is trusted like
// an admin's.
const operator = "cli"

func runCompile(ctx context.Context, w, errW io.Writer, svc *cohort.Service, q *cohort.Query, count, asJSON bool) error {
	ctx = auth.WithUser(ctx, operator, []string{"admin"})
	res, err := svc.Compile(ctx, q)
	if err != nil {
		return err
	}
	out := compileOutput{CompileResult: res}
	if count {
		start := time.Now()
		n, err := svc.Preview(ctx, q)
		if err != nil {
			return err
		}
		out.Count = &n
		fmt.Fprintf(errW, "counted %d patients in %s\n", n, time.Since(start).Round(time.Millisecond))
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintln(w, res.SQL)
	if out.Count != nil {
		fmt.Fprintf(w, "-- count: %d\n", *out.Count)
	}
	return nil
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, at := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, at)
	}
	tw.Flush()
}
