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

package relay

import (
	"embed"
	"time"

	"github.com/ecp-indexer/relay/config"
	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/hooks"
	"github.com/ecp-indexer/relay/model"
)

// Relay is the event-delivery pipeline: the outbox write path, the two fan-out engines
// and the webhook delivery worker, all sharing one datasource.
type Relay struct {
	datasource database.IDataSource
	config     *config.Configuration
	hooks      *hooks.Client
	now        func() time.Time
	jitter     model.Jitter
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewRelay creates a Relay from the loaded configuration.
//
// Parameters:
// - db database.IDataSource: The datasource for outbox, subscription and delivery storage.
//
// Returns:
// - *Relay: The pipeline instance.
// - error: If the configuration has not been loaded.
func NewRelay(db database.IDataSource) (*Relay, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Relay{
		datasource: db,
		config:     configuration,
		hooks:      hooks.NewClient(configuration.Delivery.RequestTimeout.Duration),
		now:        time.Now,
		jitter:     model.UniformJitter,
	}, nil
}
