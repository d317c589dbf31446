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

package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ecp-indexer/relay/config"
	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/internal/cache"
	_ "github.com/lib/pq" // Import the postgres driver
	"github.com/sirupsen/logrus"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

// DBTX is satisfied by both *sql.DB and *sql.Tx, so outbox writes can join the
// caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache

	// SecretTTL is how long an app signing secret stays cached.
	SecretTTL time.Duration
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}

		var secretCache cache.Cache
		if configuration.Redis.Dns != "" {
			secretCache, errConn = cache.NewCache()
			if errConn != nil {
				// signing secrets are read from the database on every delivery instead
				logrus.WithError(errConn).Warn("redis unavailable, running without signing secret cache")
				secretCache = nil
			}
		}

		instance = &Datasource{
			Conn:      con,
			Cache:     secretCache,
			SecretTTL: configuration.Delivery.SigningSecretTTL.Duration,
		}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a pooled connection and waits for the database to answer a ping.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err = backoff.RetryNotify(db.Ping, policy, func(err error, next time.Duration) {
		logrus.WithFields(logrus.Fields{"error": err, "retry_in": next}).Warn("database not ready")
	})
	if err != nil {
		logrus.Errorf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}

	logrus.Info("Database connection established ✅")
	return db, nil
}

// Ping checks that the database is reachable.
func (d Datasource) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (d Datasource) WithTx(ctx context.Context, fn func(tx DBTX) error) error {
	return d.withTx(ctx, func(tx *sql.Tx) error { return fn(tx) })
}

func (d Datasource) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func (d Datasource) querier(q DBTX) DBTX {
	if q == nil {
		return d.Conn
	}
	return q
}
