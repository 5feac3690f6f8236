package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/hive-sim/internal/demog"
)

var personasCmd = &cobra.Command{
	Use:   "personas [file]",
	Short: "Validate a demographics file and summarize its records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Panel.DemographicsPath
		if len(args) > 0 {
			path = args[0]
		}

		records, err := demog.LoadFile(path)
		if err != nil {
			return err
		}

		var totalWeight float64
		regions := map[string]int{}
		minAge, maxAge := records[0].Age, records[0].Age
		for _, r := range records {
			totalWeight += r.Weight
			regions[r.Region]++
			if r.Age < minAge {
				minAge = r.Age
			}
			if r.Age > maxAge {
				maxAge = r.Age
			}
		}

		fmt.Printf("%s: %d records, %d regions, ages %d-%d, total weight %.2f\n",
			path, len(records), len(regions), minAge, maxAge, totalWeight)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personasCmd)
}
