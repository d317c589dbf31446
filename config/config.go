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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_MONITORING_PORT = "5004"
	DEFAULT_SERVICE_NAME    = "ecp-relay"
	DEFAULT_MAX_ATTEMPTS    = 20
)

var ConfigStore atomic.Value

// Duration is a time.Duration that reads "30s"-style strings from JSON and env.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.Decode(raw)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RELAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RELAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RELAY_REDIS_SKIP_TLS_VERIFY"`
}

// FanOutConfig configures one of the outbox fan-out loops.
type FanOutConfig struct {
	BatchSize    int      `json:"batch_size" split_words:"true"`
	PollInterval Duration `json:"poll_interval" split_words:"true"`
}

type DeliveryConfig struct {
	BatchSize        int      `json:"batch_size" envconfig:"RELAY_DELIVERY_BATCH_SIZE"`
	PollInterval     Duration `json:"poll_interval" envconfig:"RELAY_DELIVERY_POLL_INTERVAL"`
	LeaseDuration    Duration `json:"lease_duration" envconfig:"RELAY_DELIVERY_LEASE_DURATION"`
	RequestTimeout   Duration `json:"request_timeout" envconfig:"RELAY_DELIVERY_REQUEST_TIMEOUT"`
	MaxAttempts      *int     `json:"max_attempts" envconfig:"RELAY_DELIVERY_MAX_ATTEMPTS"`
	SigningSecretTTL Duration `json:"signing_secret_ttl" envconfig:"RELAY_DELIVERY_SIGNING_SECRET_TTL"`
}

type MonitoringConfig struct {
	Port string `json:"port" envconfig:"RELAY_MONITORING_PORT"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"RELAY_TRACING_ENABLED"`
	ServiceName string `json:"service_name" envconfig:"RELAY_TRACING_SERVICE_NAME"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"RELAY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"RELAY_PROJECT_NAME"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	EventFanOut        FanOutConfig     `json:"event_fanout" envconfig:"EVENT_FANOUT"`
	NotificationFanOut FanOutConfig     `json:"notification_fanout" envconfig:"NOTIFICATION_FANOUT"`
	Delivery           DeliveryConfig   `json:"delivery"`
	Monitoring         MonitoringConfig `json:"monitoring"`
	Tracing            TracingConfig    `json:"tracing"`
	Notification       Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("relay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded. Create a json file called relay.json or set RELAY_* env variables")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Monitoring.Port = strings.TrimSpace(cnf.Monitoring.Port)

	if cnf.ProjectName == "" {
		cnf.ProjectName = "ECP Relay"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		logrus.Warn("redis DNS not set, signing secrets will not be cached")
	}

	cnf.EventFanOut.applyDefaults()
	cnf.NotificationFanOut.applyDefaults()
	cnf.Delivery.applyDefaults()

	if cnf.Monitoring.Port == "" {
		cnf.Monitoring.Port = DEFAULT_MONITORING_PORT
	}
	if cnf.Tracing.ServiceName == "" {
		cnf.Tracing.ServiceName = DEFAULT_SERVICE_NAME
	}

	return validation.ValidateStruct(&cnf.Delivery,
		validation.Field(&cnf.Delivery.BatchSize, validation.Min(1)),
		validation.Field(&cnf.Delivery.MaxAttempts, validation.Min(0)),
		validation.Field(&cnf.Delivery.RequestTimeout, validation.By(shorterThan(cnf.Delivery.LeaseDuration.Duration, "lease duration"))),
	)
}

func (f *FanOutConfig) applyDefaults() {
	if f.BatchSize <= 0 {
		f.BatchSize = 100
	}
	if f.PollInterval.Duration <= 0 {
		f.PollInterval.Duration = 30 * time.Second
	}
}

func (d *DeliveryConfig) applyDefaults() {
	if d.BatchSize <= 0 {
		d.BatchSize = 20
	}
	if d.PollInterval.Duration <= 0 {
		d.PollInterval.Duration = time.Second
	}
	if d.LeaseDuration.Duration <= 0 {
		d.LeaseDuration.Duration = 60 * time.Second
	}
	if d.RequestTimeout.Duration <= 0 {
		d.RequestTimeout.Duration = 5 * time.Second
	}
	if d.MaxAttempts == nil {
		maxAttempts := DEFAULT_MAX_ATTEMPTS
		d.MaxAttempts = &maxAttempts
	}
	if d.SigningSecretTTL.Duration <= 0 {
		d.SigningSecretTTL.Duration = time.Minute
	}
}

// shorterThan requires a duration below limit. The request timeout must fit inside the
// delivery lease.
func shorterThan(limit time.Duration, name string) validation.RuleFunc {
	return func(value interface{}) error {
		d, _ := value.(Duration)
		if d.Duration >= limit {
			return validation.NewError("validation_too_long", "must be shorter than the "+name)
		}
		return nil
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
