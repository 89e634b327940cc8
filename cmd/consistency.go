package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// consistencyCommands sweeps every quote and prints the ones whose stored
// status pair is not sanctioned. Nothing is repaired.
func consistencyCommands(app *quotedeskInstance) *cobra.Command {
	var batchSize int
	var failOnInconsistent bool

	cmd := &cobra.Command{
		Use:   "consistency",
		Short: "report quotes with an inconsistent status pair",
		Run: func(cmd *cobra.Command, args []string) {
			reports, checked, err := app.core.SweepConsistency(context.Background(), batchSize)
			if err != nil {
				log.Fatalf("consistency sweep failed after %d quotes: %v", checked, err)
			}

			logrus.WithFields(logrus.Fields{
				"checked":      checked,
				"inconsistent": len(reports),
			}).Info("consistency sweep finished")

			if len(reports) > 0 {
				data, err := json.MarshalIndent(reports, "", "    ")
				if err != nil {
					log.Fatal(err)
				}
				fmt.Println(string(data))
				if failOnInconsistent {
					os.Exit(2)
				}
			}
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "number of quotes read per page")
	cmd.Flags().BoolVar(&failOnInconsistent, "fail", false, "exit with status 2 when inconsistencies are found")
	return cmd
}
