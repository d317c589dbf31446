/*
Copyright 2024 ECP Indexer Authors.

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
	"context"
	"fmt"
	"os"

	"github.com/ecp-indexer/relay"
	"github.com/ecp-indexer/relay/config"
	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RelayCLI is the command-line interface, wrapping the root cobra command.
type RelayCLI struct {
	cmd *cobra.Command
}

// relayInstance holds the pipeline and the configuration shared by all commands.
type relayInstance struct {
	relay      *relay.Relay
	datasource database.IDataSource
	cnf        *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and connects the pipeline before any command runs.
func preRun(app *relayInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// config and migrate only need the configuration
		if cmd.Annotations["skip_datasource"] == "true" {
			return nil
		}

		db, r, err := setupRelay(cnf)
		if err != nil {
			notification.NotifyError(context.Background(), err)
			return err
		}
		app.datasource = db
		app.relay = r
		return nil
	}
}

func setupRelay(cfg *config.Configuration) (database.IDataSource, *relay.Relay, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	r, err := relay.NewRelay(db)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating relay: %v", err)
	}
	return db, r, nil
}

// NewCLI creates the root command and its subcommands.
func NewCLI() *RelayCLI {
	var configFile string
	app := &relayInstance{}

	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Outbox fan-out and webhook delivery workers",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./relay.json", "Configuration file for the relay")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())
	rootCmd.AddCommand(deliveryCommands(app))
	rootCmd.AddCommand(testEventCommand(app))
	rootCmd.AddCommand(signingKeyCommands(app))

	return &RelayCLI{cmd: rootCmd}
}

func (c RelayCLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
