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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func parseDeliveryID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid delivery id %q", raw)
	}
	return id, nil
}

func deliveryCommands(app *relayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "inspect and replay webhook deliveries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "redeliver <delivery-id>",
		Short: "queue a finished delivery again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDeliveryID(args[0])
			if err != nil {
				return err
			}
			delivery, err := app.relay.RedeliverDelivery(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, delivery)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "attempts <delivery-id>",
		Short: "list the attempts of a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDeliveryID(args[0])
			if err != nil {
				return err
			}
			attempts, err := app.relay.ListDeliveryAttempts(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, attempts)
		},
	})

	return cmd
}

func testEventCommand(app *relayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "test-event <app-id> <webhook-id>",
		Short: "publish a test event to one webhook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := app.relay.PublishTestEvent(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, event)
		},
	}
}

func signingKeyCommands(app *relayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signing-keys",
		Short: "manage app signing keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <app-id> <key-id>",
		Short: "revoke a signing key and evict its cached secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid signing key id %q", args[1])
			}
			if err := app.relay.RevokeSigningKey(cmd.Context(), args[0], keyID); err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"app_id": args[0], "key_id": keyID, "revoked": true})
		},
	})

	return cmd
}
