package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/config"
	"vitalsync/internal/database"
	"vitalsync/internal/models"
	"vitalsync/internal/sbp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vitalsync",
		Short:         "Vital-sign measurement session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newEstimateCmd())
	root.AddCommand(newPatientCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the polling API, PTT worker and optional Kafka/MQTT bridges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// riskFlags binds the RiskProfile attributes to command flags.
type riskFlags struct {
	age          float64
	gender       string
	smoking      string
	exercise     string
	hypertension string
	baseline     string
}

func (f *riskFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.age, "age", 0, "age in years")
	cmd.Flags().StringVar(&f.gender, "gender", "", "Male|Female")
	cmd.Flags().StringVar(&f.smoking, "smoking", "No", "Yes|No")
	cmd.Flags().StringVar(&f.exercise, "exercise", "No", "Yes|No")
	cmd.Flags().StringVar(&f.hypertension, "hypertension", "No", "Yes|No")
	cmd.Flags().StringVar(&f.baseline, "baseline", "Normal", "usual blood pressure: Low|Normal|High")
}

func (f *riskFlags) profile() models.RiskProfile {
	return models.RiskProfile{
		Age:           f.age,
		Gender:        models.Gender(f.gender),
		Smoking:       models.YesNo(f.smoking),
		Exercise:      models.YesNo(f.exercise),
		Hypertension:  models.YesNo(f.hypertension),
		BloodPressure: models.BPCategory(f.baseline),
	}
}

func newEstimateCmd() *cobra.Command {
	var risk riskFlags
	var ptt float64

	cmd := &cobra.Command{
		Use:   "estimate --ptt <ms> --age <years> --gender <Male|Female>",
		Short: "Estimate systolic blood pressure from a PTT value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile := risk.profile()
			if err := profile.Validate(); err != nil {
				return apperror.FromValidation(err)
			}
			est, err := sbp.EstimateSBP(profile, ptt)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "a0=%g a1=%g a2=%g\nSBP=%s\n", est.Params.A0, est.Params.A1, est.Params.A2, est.Formatted)
			return nil
		},
	}
	risk.bind(cmd)
	cmd.Flags().Float64Var(&ptt, "ptt", 0, "pulse transit time in ms")
	_ = cmd.MarkFlagRequired("ptt")
	_ = cmd.MarkFlagRequired("gender")
	return cmd
}

func newPatientCmd() *cobra.Command {
	patient := &cobra.Command{Use: "patient", Short: "Patient directory commands"}

	var risk riskFlags
	var uid, name, dbPath string
	add := &cobra.Command{
		Use:   "add --uid <tag> --name <full name>",
		Short: "Add or update a patient in the local directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(dbPath) == "" {
				cfg, _, err := config.LoadConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}
			repo, err := database.NewRepository(dbPath, zap.NewNop())
			if err != nil {
				return fmt.Errorf("open %s: %w", dbPath, err)
			}
			defer repo.Close()

			p := models.Patient{UID: uid, FullName: name, RiskProfile: risk.profile()}
			if err := repo.UpsertPatient(context.Background(), p); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved patient %s (%s)\n", p.UID, p.FullName)
			return nil
		},
	}
	risk.bind(add)
	add.Flags().StringVar(&uid, "uid", "", "tag/card identifier")
	add.Flags().StringVar(&name, "name", "", "full name")
	add.Flags().StringVar(&dbPath, "db", "", "database path (default DB_PATH)")
	_ = add.MarkFlagRequired("uid")
	_ = add.MarkFlagRequired("name")

	patient.AddCommand(add)
	return patient
}
