package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/pkg/migration"
)

var (
	listDir   string
	listRange string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List migrations in application order",
	Long:  `List the migrations that migrate would attempt, in order. Does not connect to the database.`,
	Example: `  # List all migrations
  strata list --dir db/migrations

  # List what --range 3-7 would select
  strata list --range 3-7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveString(listDir, cfg.ResolvedDir(cfg.Migrate.Dir))
		rng, err := migration.ParseRange(resolveString(listRange, cfg.Migrate.Range))
		if err != nil {
			return cli.ConfigError("parsing range", err)
		}

		src := migration.NewDirSource(dir)
		cat, err := migration.LoadCatalog(cmd.Context(), src, rng)
		if err != nil {
			return cli.Classify("reading migrations", err)
		}
		excluded, err := src.Excluded()
		if err != nil {
			return cli.Classify("reading migrations", err)
		}

		printCatalog(cat, excluded)
		return nil
	},
}

func init() {
	f := listCmd.Flags()
	f.StringVar(&listDir, "dir", "", "directory containing NNN_name.sql files")
	f.StringVar(&listRange, "range", "", "sequence numbers to select: 5, 3-7, 3- or -7")
}

func printCatalog(cat *migration.Catalog, excluded []string) {
	fmt.Printf("Range: %s, %d migration(s)\n\n", cat.Selection(), cat.Len())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tNAME\tMODE")
	for _, def := range cat.Definitions() {
		mode := "transaction"
		if def.NoTransaction {
			mode = "no transaction"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", def.Sequence, def.Name, mode)
	}
	_ = w.Flush()

	dups := cat.Duplicates()
	seqs := make([]int64, 0, len(dups))
	for seq := range dups {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		fmt.Printf("\nWarning: sequence %d is shared by %d files; they run in name order.\n", seq, len(dups[seq]))
	}
	if len(excluded) > 0 && !quiet {
		fmt.Println("\nIgnored files:")
		for _, name := range excluded {
			fmt.Printf("  %s\n", name)
		}
	}
}
