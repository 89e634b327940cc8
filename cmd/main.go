/*
Copyright 2024 Quotedesk Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk"
	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/database"
	"github.com/quotedesk/quotedesk/internal/notification"
)

// Quotedesk is the CLI application.
type Quotedesk struct {
	cmd *cobra.Command
}

// quotedeskInstance holds what every command needs once configuration is loaded.
type quotedeskInstance struct {
	core *quotedesk.Quotedesk
	cnf  *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the approval core before any command runs.
func preRun(app *quotedeskInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrations and config printing do not need the core
		if !needsCore(cmd) {
			return nil
		}

		core, err := setupQuotedesk(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.core = core
		return nil
	}
}

func needsCore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["core"] == "false" {
			return false
		}
	}
	return true
}

func setupQuotedesk(cfg *config.Configuration) (*quotedesk.Quotedesk, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	core, err := quotedesk.NewQuotedesk(db)
	if err != nil {
		return nil, fmt.Errorf("error creating quotedesk: %v", err)
	}
	return core, nil
}

func NewCLI() *Quotedesk {
	var configFile string
	app := &quotedeskInstance{}

	var rootCmd = &cobra.Command{
		Use:   "quotedesk",
		Short: "Quote approval service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./quotedesk.json", "Configuration file for quotedesk")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())
	rootCmd.AddCommand(consistencyCommands(app))

	return &Quotedesk{cmd: rootCmd}
}

func (q Quotedesk) executeCLI() {
	if err := q.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
