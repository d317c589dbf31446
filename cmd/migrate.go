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
	"fmt"

	"github.com/ecp-indexer/relay"
	"github.com/ecp-indexer/relay/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

func migrateCommands(app *relayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply or roll back the relay schema",
	}

	cmd.AddCommand(migrateCommand(app, "up", "apply pending migrations", migrate.Up))
	cmd.AddCommand(migrateCommand(app, "down", "roll back applied migrations", migrate.Down))
	return cmd
}

func migrateCommand(app *relayInstance, use, short string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Annotations: map[string]string{"skip_datasource": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: relay.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(app.cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer func() { _ = db.Close() }()

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
			return nil
		},
	}
}
