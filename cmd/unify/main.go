package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/config"
	"github.com/vayo/unify/internal/matcher"
	"github.com/vayo/unify/internal/pipeline"
	"github.com/vayo/unify/internal/refindex"
	"github.com/vayo/unify/internal/source"
	"github.com/vayo/unify/internal/store"
	"github.com/vayo/unify/internal/unify"
	"github.com/vayo/unify/internal/web"
)

var (
	cfg    config.Config
	logger = logrus.New()
)

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	rootCmd := &cobra.Command{
		Use:   "unify",
		Short: "NYC property listing and transaction unification",
		Long:  `Unifies listing and transaction events from ACRIS, Elliman, Corcoran and StreetEasy snapshots into per-building timelines`,
	}

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createExtractCmd())
	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// extractorFactories wires each source's snapshot reader to its extractor.
// The readers run lazily inside the pipeline so a missing snapshot fails
// only its own source.
func extractorFactories() []pipeline.ExtractorFactory {
	return []pipeline.ExtractorFactory{
		{Source: source.ACRIS, New: func(d pipeline.Deps) (source.Extractor, error) {
			rows, err := source.ReadAcris(cfg.AcrisDB)
			if err != nil {
				return nil, err
			}
			return source.NewAcrisExtractor(rows, d.Resolver), nil
		}},
		{Source: source.Elliman, New: func(d pipeline.Deps) (source.Extractor, error) {
			rows, err := source.ReadElliman(cfg.EllimanDB)
			if err != nil {
				return nil, err
			}
			return source.NewEllimanExtractor(rows, d.Matcher), nil
		}},
		{Source: source.Corcoran, New: func(d pipeline.Deps) (source.Extractor, error) {
			rows, err := source.ReadCorcoran(cfg.CorcoranDB)
			if err != nil {
				return nil, err
			}
			return source.NewCorcoranExtractor(rows, d.Matcher), nil
		}},
		{Source: source.StreetEasy, New: func(d pipeline.Deps) (source.Extractor, error) {
			rows, err := source.ReadStreetEasy(cfg.StreetEasyDB)
			if err != nil {
				return nil, err
			}
			return source.NewStreetEasyExtractor(rows, d.Matcher), nil
		}},
	}
}

func pipelineOptions() pipeline.Options {
	return pipeline.Options{
		Matcher: matcher.Options{
			FuzzyThreshold:  cfg.FuzzyThreshold,
			AmbiguityMargin: cfg.AmbiguityMargin,
		},
		Policy: unify.Policy{
			PriceTolerance: cfg.PriceTolerance,
			DateWindowDays: cfg.DateWindowDays,
		},
		Workers: cfg.Workers,
	}
}

func openStore() *store.Store {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return st
}

// buildDeps loads the reference snapshot and builds the matching deps for
// the ad-hoc commands that run outside the pipeline.
func buildDeps(ctx context.Context, st *store.Store) pipeline.Deps {
	buildings, err := st.LoadBuildings(ctx)
	if err != nil {
		log.Fatalf("Failed to load reference buildings: %v", err)
	}
	idx, err := refindex.Build(buildings)
	if err != nil {
		log.Fatalf("Reference index unusable: %v", err)
	}
	bins, err := st.LoadBINBridge(ctx)
	if err != nil {
		logger.WithError(err).Warn("bin bridge unavailable")
		bins = nil
	}
	return pipeline.Deps{
		Matcher: matcher.New(idx, matcher.Options{
			FuzzyThreshold:  cfg.FuzzyThreshold,
			AmbiguityMargin: cfg.AmbiguityMargin,
		}),
		Resolver: bbl.NewResolver(idx, bins),
	}
}

func createRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute a full unification run",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			ctx := context.Background()
			if err := st.EnsureSchema(ctx); err != nil {
				log.Fatalf("Failed to prepare schema: %v", err)
			}

			p := pipeline.New(st, st, extractorFactories(), pipelineOptions(), logger)
			run, err := p.Run(ctx)
			if err != nil {
				log.Fatalf("Run failed: %v", err)
			}

			fmt.Printf("Run %s complete in %s\n", run.ID, run.FinishedAt.Sub(run.StartedAt))
			fmt.Printf("  %s\n", run.Output.Stats.String())
			fmt.Printf("  rejected=%d\n", len(run.Rejects))

			names := make([]string, 0, len(run.Output.PerSource))
			for name := range run.Output.PerSource {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				ss := run.Output.PerSource[name]
				fmt.Printf("  %s: records=%d matched=%d unmatched=%d ambiguous=%d conflicting=%d\n",
					name, ss.Records, ss.Matched, ss.Unmatched, ss.Ambiguous, ss.Conflicting)
			}
		},
	}
}

func createExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [source]",
		Short: "Extract one source and report without persisting",
		Long:  `Runs a single source's extraction against the current reference snapshot and prints counts and reject reasons. Sources: acris, elliman, corcoran, streeteasy`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			deps := buildDeps(context.Background(), st)

			var ex source.Extractor
			var err error
			switch args[0] {
			case source.ACRIS:
				var rows []source.AcrisRow
				if rows, err = source.ReadAcris(cfg.AcrisDB); err == nil {
					ex = source.NewAcrisExtractor(rows, deps.Resolver)
				}
			case source.Elliman:
				var rows []source.EllimanRow
				if rows, err = source.ReadElliman(cfg.EllimanDB); err == nil {
					ex = source.NewEllimanExtractor(rows, deps.Matcher)
				}
			case source.Corcoran:
				var rows []source.CorcoranRow
				if rows, err = source.ReadCorcoran(cfg.CorcoranDB); err == nil {
					ex = source.NewCorcoranExtractor(rows, deps.Matcher)
				}
			case source.StreetEasy:
				var rows []source.StreetEasyRow
				if rows, err = source.ReadStreetEasy(cfg.StreetEasyDB); err == nil {
					ex = source.NewStreetEasyExtractor(rows, deps.Matcher)
				}
			default:
				log.Fatalf("Unknown source %q", args[0])
			}
			if err != nil {
				log.Fatalf("Failed to read snapshot: %v", err)
			}

			batch, err := ex.Extract()
			if err != nil {
				log.Fatalf("Extraction failed: %v", err)
			}

			resolved := 0
			for _, r := range batch.Records {
				if r.Resolved() {
					resolved++
				}
			}
			fmt.Printf("%s: %d records (%d resolved), %d rejects\n",
				batch.Source, len(batch.Records), resolved, len(batch.Rejects))
			for i, rej := range batch.Rejects {
				if i >= 20 {
					fmt.Printf("  ... and %d more\n", len(batch.Rejects)-i)
					break
				}
				fmt.Printf("  reject %s: %s\n", rej.SourceRecordID, rej.Reason)
			}
		},
	}
}

func createMatchCmd() *cobra.Command {
	var borough, zip string
	cmd := &cobra.Command{
		Use:   "match [address]",
		Short: "Match a single address against the reference snapshot",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			deps := buildDeps(context.Background(), st)
			res := deps.Matcher.Match(args[0], borough, zip)

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
		},
	}
	cmd.Flags().StringVar(&borough, "borough", "", "Borough hint (name or digit)")
	cmd.Flags().StringVar(&zip, "zip", "", "ZIP code hint")
	return cmd
}

func createStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent run's accounting",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			summary, err := st.LatestRun(context.Background())
			if err != nil {
				log.Fatalf("Failed to load run status: %v", err)
			}

			fmt.Printf("Run %s (%s)\n", summary.ID, summary.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  %s\n", summary.Stats.String())
			fmt.Printf("  rejected=%d\n", summary.Rejected)
		},
	}
}

func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the unified output over HTTP",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			// The match endpoint needs the reference index; serve without
			// it when the snapshot is not loaded yet.
			var m web.AddressMatcher
			buildings, err := st.LoadBuildings(context.Background())
			if err == nil && len(buildings) > 0 {
				if idx, err := refindex.Build(buildings); err == nil {
					m = matcher.New(idx, matcher.Options{
						FuzzyThreshold:  cfg.FuzzyThreshold,
						AmbiguityMargin: cfg.AmbiguityMargin,
					})
				}
			} else {
				logger.Warn("reference snapshot unavailable, match endpoint disabled")
			}

			srv := web.NewServer(cfg.ListenAddr, st, m, logger)
			if err := srv.Start(); err != nil {
				log.Fatalf("Server failed: %v", err)
			}
		},
	}
}
