package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pbaille/reads/internal/api"
	"github.com/pbaille/reads/internal/catalog"
	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/fetcher"
	"github.com/pbaille/reads/internal/service"
	"github.com/pbaille/reads/internal/store"
)

var (
	configPath string
	dbPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "reads",
		Short:         "Reader value profiles and explained book recommendations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $READS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(gapsCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(catalogCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			cfg := a.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}
			return api.NewServer(a.svc, cfg).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(fn func(*store.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mg, err := store.NewMigrator(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer mg.Close()
			return fn(mg)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: run(func(mg *store.Migrator) error {
			if err := mg.Up(); err != nil {
				return err
			}
			fmt.Println("Schema is up to date.")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: run(func(mg *store.Migrator) error {
			if err := mg.Down(); err != nil {
				return err
			}
			fmt.Println("Schema rolled back.")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: run(func(mg *store.Migrator) error {
			v, dirty, err := mg.Version()
			if err != nil {
				return err
			}
			if dirty {
				fmt.Printf("%d (dirty)\n", v)
			} else {
				fmt.Println(v)
			}
			return nil
		}),
	})
	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or replace reader profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [reader-id]",
		Short: "Show a profile and its signal counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			p, err := a.svc.GetProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			meta, err := a.svc.ProfileMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Reader: %s (%s)\n", p.ID, p.Age)
			fmt.Printf("Signals: %d test, %d text\n", meta.TestCount, meta.TextCount)
			printVector(p.Concepts)
			return nil
		},
	})

	var age string
	var concepts []string
	set := &cobra.Command{
		Use:   "set [reader-id]",
		Short: "Replace a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := parseConcepts(concepts)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			p, err := a.svc.PutProfile(cmd.Context(), domain.ReaderProfile{ID: args[0], Age: age, Concepts: vec})
			if err != nil {
				return err
			}
			fmt.Printf("Saved profile %s (%s)\n", p.ID, p.Age)
			printVector(p.Concepts)
			return nil
		},
	}
	set.Flags().StringVar(&age, "age", "16+", "age bucket")
	set.Flags().StringArrayVarP(&concepts, "concept", "c", nil, "concept weight as name=value (repeatable)")
	cmd.AddCommand(set)

	return cmd
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Questionnaire signals",
	}

	var age string
	var concepts []string
	apply := &cobra.Command{
		Use:   "apply [reader-id]",
		Short: "Fold questionnaire answers into a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := parseConcepts(concepts)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			up, err := a.svc.ApplyTest(cmd.Context(), args[0], age, vec)
			if err != nil {
				return err
			}
			printUpdate(up.Profile, up.Meta)
			return nil
		},
	}
	apply.Flags().StringVar(&age, "age", "", "age bucket (keeps the stored one when empty)")
	apply.Flags().StringArrayVarP(&concepts, "concept", "c", nil, "answer as name=value (repeatable)")
	cmd.AddCommand(apply)

	return cmd
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [reader-id] [text or url]",
		Short: "Analyze a text or a web page and fold it into a profile",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args[1:], " ")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			fmt.Print("Analyzing... ")
			var up *service.Update
			if fetcher.IsURL(input) {
				up, err = a.svc.AnalyzeURL(cmd.Context(), args[0], input)
			} else {
				up, err = a.svc.AnalyzeText(cmd.Context(), args[0], input)
			}
			if err != nil {
				fmt.Println("failed")
				return err
			}
			fmt.Println("done")
			printUpdate(up.Profile, up.Meta)
			return nil
		},
	}
}

func gapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gaps [reader-id]",
		Short: "Show the largest gaps between a profile and its age target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			gaps, err := a.svc.Gaps(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(gaps) == 0 {
				fmt.Println("No target for this reader's age.")
				return nil
			}
			for _, g := range gaps {
				fmt.Printf("%-24s %-5s target %.2f  current %.2f  gap %+.2f\n",
					g.Concept, g.Direction, g.Target, g.Current, g.Gap)
			}
			return nil
		},
	}
}

func recommendCmd() *cobra.Command {
	var topN int
	var useSaved bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recommend [reader-id]",
		Short: "Recommend works with the reason for each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			recs, err := a.svc.Recommendations(cmd.Context(), args[0], topN, useSaved)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(recs)
			}
			if len(recs) == 0 {
				fmt.Println("Nothing to recommend yet.")
				return nil
			}
			for i, r := range recs {
				fmt.Printf("%d. %s", i+1, r.Work.Title)
				if r.Work.Author != "" {
					fmt.Printf(" by %s", r.Work.Author)
				}
				fmt.Printf("  [%s %.3f]\n", r.Why.Mode, r.Why.Score)
				for _, g := range r.Why.Gaps {
					name := g.Concept
					if g.Via != "" {
						name += " (" + g.Via + ")"
					}
					fmt.Printf("     %-36s gap %+.2f  weight %.2f\n", name, g.Gap, g.Weight)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topN, "top", "n", 0, "number of works (default from config)")
	cmd.Flags().BoolVar(&useSaved, "use-saved", true, "fall back to the last saved pass")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [reader-id]",
		Short: "List profile update events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			events, err := a.svc.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No events yet.")
				return nil
			}
			for _, e := range events {
				fmt.Printf("%s  %s  %-6s %s\n", e.ID[:8], e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, topConcepts(e.ProfileAfter.Concepts, 3))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the work catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [works.json]",
		Short: "Load works from a JSON file into the configured catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			works, err := catalog.ReadWorksFile(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			imp, ok := a.catalog.(catalog.Importer)
			if !ok {
				return fmt.Errorf("catalog source %q is read-only", a.cfg.Catalog.Source)
			}
			if err := imp.Import(cmd.Context(), works); err != nil {
				return err
			}
			fmt.Printf("Imported %d works into %s catalog\n", len(works), a.cfg.Catalog.Source)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog works",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			works, err := a.svc.Works(cmd.Context())
			if err != nil {
				return err
			}
			if len(works) == 0 {
				fmt.Println("Catalog is empty. Use 'reads catalog import' to load works.")
				return nil
			}
			for _, w := range works {
				fmt.Printf("%-12s %-5s %s  %s\n", w.ID, w.Age, truncate(w.Title, 40), topConcepts(w.Concepts, 3))
			}
			return nil
		},
	})
	return cmd
}

// parseConcepts reads name=value pairs
func parseConcepts(pairs []string) (domain.ConceptVector, error) {
	vec := domain.ConceptVector{}
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("concept %q: want name=value", p)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("concept %q: %w", name, err)
		}
		vec[name] = w
	}
	return vec, nil
}

func printUpdate(p domain.ReaderProfile, meta domain.ProfileMeta) {
	fmt.Printf("Reader %s (%s): %d test, %d text signals\n", p.ID, p.Age, meta.TestCount, meta.TextCount)
	printVector(p.Concepts)
}

func printVector(v domain.ConceptVector) {
	for _, cw := range v.Top(len(v)) {
		fmt.Printf("  %-24s %.3f\n", cw.Concept, cw.Weight)
	}
}

func topConcepts(v domain.ConceptVector, n int) string {
	top := v.Top(n)
	parts := make([]string, len(top))
	for i, cw := range top {
		parts[i] = fmt.Sprintf("%s=%.2f", cw.Concept, cw.Weight)
	}
	return strings.Join(parts, " ")
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
