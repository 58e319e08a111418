// Command tsunami-check runs the impact pipeline once from the command line.
//
// Usage:
//
//	tsunami-check check --db ./data/tsunami-alerts.db
//	tsunami-check assess --magnitude 9.1 --depth 30 --lat 3.3 --lon 95.9 --probability 0.85
//	tsunami-check zones --file zones.yaml
//
// Configuration is read from the same environment variables as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-tsunami-alerts/internal/app"
	"github.com/mr1hm/go-tsunami-alerts/internal/config"
	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/ingestion"
	"github.com/mr1hm/go-tsunami-alerts/internal/logging"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/predictor"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tsunami-check",
		Short:        "Assess tsunami risk to the Indian coastline",
		SilenceUsage: true,
	}
	root.AddCommand(checkCmd(), assessCmd(), zonesCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// stdout carries the JSON result
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

func checkCmd() *cobra.Command {
	var (
		dbPath   string
		dispatch bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one monitoring cycle and print the published reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.DB.Path = dbPath

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, app.Options{Dispatch: dispatch})
			if err != nil {
				return err
			}
			defer a.Close()
			if dispatch {
				a.Dispatcher.Start(ctx)
			}

			res, err := a.Monitor.Check(ctx)
			if err != nil {
				return fmt.Errorf("error running check: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "report history database; the in-memory default forgets earlier checks")
	cmd.Flags().BoolVar(&dispatch, "dispatch", false, "alert the cloud state, sink and devices for threat reports")
	return cmd
}

func assessCmd() *cobra.Command {
	var (
		magnitude, depth, lat, lon float64
		probability, confidence    float64
		place                      string
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess a single earthquake without publishing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			impactCfg, err := cfg.ImpactConfig()
			if err != nil {
				return err
			}
			assessor, err := impact.New(impactCfg)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			event := &models.EarthquakeEvent{
				ID:        fmt.Sprintf("cli_%d", now.UnixMilli()),
				Source:    "cli",
				Magnitude: magnitude,
				DepthKm:   depth,
				Latitude:  lat,
				Longitude: lon,
				Time:      now,
				Place:     place,
			}
			if err := impact.ValidateEvent(event); err != nil {
				return err
			}

			ocean := models.NormalOceanConditions()
			var prediction models.Prediction
			if cmd.Flags().Changed("probability") {
				prediction = models.Prediction{
					RiskProbability: probability,
					Confidence:      confidence,
					RiskClass:       models.ClassFor(probability),
					Model:           "cli",
				}
			} else {
				p := predictor.New(cfg.Model.URL, cfg.Model.Timeout)
				prediction, err = p.Predict(cmd.Context(), event, ocean)
				if err != nil {
					return fmt.Errorf("error predicting: %w", err)
				}
			}

			a, err := assessor.Assess(event, prediction)
			if err != nil {
				return err
			}
			r := report.NewBuilder(impactCfg.Regions, nil).Build(event, a, ocean, ingestion.SummarizeAdvisories(nil))
			return printJSON(cmd, map[string]any{
				"prediction": prediction,
				"assessment": a,
				"report":     r,
			})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&magnitude, "magnitude", 0, "moment magnitude")
	f.Float64Var(&depth, "depth", 10, "hypocentre depth in km")
	f.Float64Var(&lat, "lat", 0, "epicentre latitude")
	f.Float64Var(&lon, "lon", 0, "epicentre longitude")
	f.StringVar(&place, "place", "", "human-readable location")
	f.Float64Var(&probability, "probability", 0, "model risk probability; the configured predictor is used when omitted")
	f.Float64Var(&confidence, "confidence", 0.5, "model confidence used with --probability")
	cmd.MarkFlagRequired("magnitude")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}

func zonesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Validate a zones file and print the effective assessor configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := impact.DefaultConfig()
			if file != "" {
				var err error
				if cfg, err = impact.LoadConfigFile(file); err != nil {
					return err
				}
			}
			return printJSON(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML zones file; defaults are printed when empty")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
