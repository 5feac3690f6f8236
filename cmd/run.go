package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/poll"
	"github.com/sells-group/hive-sim/internal/store"
)

var runFlags struct {
	question    string
	kinds       []string
	panelSize   int
	perspective string
	label       string
	modelName   string
	user        string
	ageMin      int
	ageMax      int
	incomeMin   int
	incomeMax   int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation job end to end and print the answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(ctx); err != nil {
			return err
		}

		kinds := make(model.AnswerKinds, len(runFlags.kinds))
		for i, k := range runFlags.kinds {
			kinds[i] = model.AnswerKind(k)
		}

		var filter *model.SamplingFilter
		if cmd.Flags().Changed("age-min") || cmd.Flags().Changed("age-max") ||
			cmd.Flags().Changed("income-min") || cmd.Flags().Changed("income-max") {
			filter = &model.SamplingFilter{
				AgeMin:    runFlags.ageMin,
				AgeMax:    runFlags.ageMax,
				IncomeMin: runFlags.incomeMin,
				IncomeMax: runFlags.incomeMax,
			}
		}

		job, err := e.Orchestrator.CreateJob(ctx, model.Job{
			RequesterRef: runFlags.user,
			Question:     runFlags.question,
			Kinds:        kinds,
			PanelSize:    runFlags.panelSize,
			Perspective:  model.Perspective(runFlags.perspective),
			CustomLabel:  runFlags.label,
			Filter:       filter,
			Model:        runFlags.modelName,
			Temperature:  &cfg.Sim.Temperature,
			MaxTokens:    cfg.Sim.MaxTokens,
		})
		if err != nil {
			return err
		}
		fmt.Printf("job %s created, interviewing %d personas\n", job.ID, job.PanelSize)

		go func() {
			if err := e.Orchestrator.RunJob(ctx, job.ID); err != nil && !errors.Is(err, store.ErrNotClaimable) {
				zap.L().Error("job run failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}()

		results, err := e.Poller.AwaitCompletion(ctx, job.ID)
		if err != nil {
			var failed *poll.JobFailedError
			if errors.As(err, &failed) {
				return fmt.Errorf("job finished %s: %s", failed.Status, failed.Message)
			}
			return err
		}

		printResults(results)
		return nil
	},
}

func printResults(results *model.ResultSet) {
	fmt.Printf("\nQ: %s\n\n", results.Question)
	for _, ans := range results.Answers {
		fmt.Printf("[%d] age %d, income %d, %s\n",
			ans.Index+1, ans.Persona.Age, ans.Persona.Income, ans.Persona.Region)
		if ans.Likert != nil {
			fmt.Printf("    rating: %d (%s)\n", *ans.Likert, model.LikertLabels[*ans.Likert-1])
		}
		if ans.OpenEnded != "" {
			fmt.Printf("    %s\n", ans.OpenEnded)
		}
	}
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.question, "question", "q", "", "survey question (required)")
	runCmd.Flags().StringSliceVar(&runFlags.kinds, "kinds", []string{"open_ended", "likert"}, "answer kinds: open_ended, likert")
	runCmd.Flags().IntVarP(&runFlags.panelSize, "panel", "n", 3, "number of personas to interview")
	runCmd.Flags().StringVar(&runFlags.perspective, "perspective", "sampled_population", "general, sampled_population, or custom_profile")
	runCmd.Flags().StringVar(&runFlags.label, "label", "", "viewpoint label for custom_profile")
	runCmd.Flags().StringVar(&runFlags.modelName, "model", "", "completion model (default from config)")
	runCmd.Flags().StringVar(&runFlags.user, "user", "cli", "requester recorded on the job")
	runCmd.Flags().IntVar(&runFlags.ageMin, "age-min", 0, "minimum persona age")
	runCmd.Flags().IntVar(&runFlags.ageMax, "age-max", 120, "maximum persona age")
	runCmd.Flags().IntVar(&runFlags.incomeMin, "income-min", 0, "minimum persona income")
	runCmd.Flags().IntVar(&runFlags.incomeMax, "income-max", 10_000_000, "maximum persona income")
	runCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(runCmd)
}
