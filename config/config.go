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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT                 = "5001"
	DEFAULT_CALLBACK_QUEUE       = "approval_callbacks"
	DEFAULT_WEBHOOK_QUEUE        = "quote_webhooks"
	DEFAULT_EXTERNAL_TIMEOUT_SEC = 10
	DEFAULT_MAX_CLOCK_SKEW_SEC   = 300
	DEFAULT_SUBMIT_LOCK_SEC      = 30
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"QUOTEDESK_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"QUOTEDESK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"QUOTEDESK_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"QUOTEDESK_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"QUOTEDESK_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"QUOTEDESK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"QUOTEDESK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"QUOTEDESK_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"QUOTEDESK_REDIS_SKIP_TLS_VERIFY"`
}

// ExternalConfig holds the remote approval system credentials. The provider is
// only selectable when Enabled is set and every required field is present.
type ExternalConfig struct {
	Enabled        bool   `json:"enabled" envconfig:"QUOTEDESK_EXTERNAL_ENABLED"`
	BaseURL        string `json:"base_url" envconfig:"QUOTEDESK_EXTERNAL_BASE_URL"`
	CorpID         string `json:"corp_id" envconfig:"QUOTEDESK_EXTERNAL_CORP_ID"`
	CorpSecret     string `json:"corp_secret" envconfig:"QUOTEDESK_EXTERNAL_CORP_SECRET"`
	AgentID        string `json:"agent_id" envconfig:"QUOTEDESK_EXTERNAL_AGENT_ID"`
	TemplateID     string `json:"template_id" envconfig:"QUOTEDESK_EXTERNAL_TEMPLATE_ID"`
	CreatorUserID  string `json:"creator_user_id" envconfig:"QUOTEDESK_EXTERNAL_CREATOR_USER_ID"`
	CallbackToken  string `json:"callback_token" envconfig:"QUOTEDESK_EXTERNAL_CALLBACK_TOKEN"`
	CallbackAESKey string `json:"callback_aes_key" envconfig:"QUOTEDESK_EXTERNAL_CALLBACK_AES_KEY"`
	TimeoutSec     int    `json:"timeout_sec" envconfig:"QUOTEDESK_EXTERNAL_TIMEOUT_SEC"`
	MaxClockSkew   int    `json:"max_clock_skew_sec" envconfig:"QUOTEDESK_EXTERNAL_MAX_CLOCK_SKEW_SEC"`
}

// MissingFields lists the required external settings that are not configured.
func (e ExternalConfig) MissingFields() []string {
	var missing []string
	required := []struct{ name, value string }{
		{"base_url", e.BaseURL},
		{"corp_id", e.CorpID},
		{"corp_secret", e.CorpSecret},
		{"template_id", e.TemplateID},
		{"creator_user_id", e.CreatorUserID},
		{"callback_token", e.CallbackToken},
		{"callback_aes_key", e.CallbackAESKey},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

type QueueConfig struct {
	CallbackQueue string `json:"callback_queue" envconfig:"QUOTEDESK_QUEUE_CALLBACK"`
	WebhookQueue  string `json:"webhook_queue" envconfig:"QUOTEDESK_QUEUE_WEBHOOK"`
	AsyncCallback bool   `json:"async_callback" envconfig:"QUOTEDESK_QUEUE_ASYNC_CALLBACK"`
	Concurrency   int    `json:"concurrency" envconfig:"QUOTEDESK_QUEUE_CONCURRENCY"`
	MaxRetry      int    `json:"max_retry" envconfig:"QUOTEDESK_QUEUE_MAX_RETRY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"QUOTEDESK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"QUOTEDESK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"QUOTEDESK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"QUOTEDESK_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"QUOTEDESK_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type TracingConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"QUOTEDESK_TRACING_ENABLED"`
	Endpoint string `json:"endpoint" envconfig:"QUOTEDESK_TRACING_ENDPOINT"`
}

type LockConfig struct {
	SubmitLockSec int `json:"submit_lock_sec" envconfig:"QUOTEDESK_SUBMIT_LOCK_SEC"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"QUOTEDESK_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	External     ExternalConfig   `json:"external"`
	Queue        QueueConfig      `json:"queue"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Tracing      TracingConfig    `json:"tracing"`
	Lock         LockConfig       `json:"lock"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("quotedesk", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called quotedesk.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Quotedesk"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.External.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.External.BaseURL), "/")

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.AsyncCallback && cnf.Redis.Dns == "" {
		return errors.New("redis DNS is required when async callback processing is enabled")
	}
	if cnf.Queue.CallbackQueue == "" {
		cnf.Queue.CallbackQueue = DEFAULT_CALLBACK_QUEUE
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Queue.MaxRetry <= 0 {
		cnf.Queue.MaxRetry = 10
	}

	if cnf.External.TimeoutSec <= 0 {
		cnf.External.TimeoutSec = DEFAULT_EXTERNAL_TIMEOUT_SEC
	}
	if cnf.External.MaxClockSkew == 0 {
		cnf.External.MaxClockSkew = DEFAULT_MAX_CLOCK_SKEW_SEC
	}
	if cnf.External.Enabled {
		if missing := cnf.External.MissingFields(); len(missing) > 0 {
			// not fatal: the external provider reports itself unavailable instead
			log.Printf("Warning: external approval enabled but missing %s", strings.Join(missing, ", "))
		}
	}

	if cnf.Lock.SubmitLockSec <= 0 {
		cnf.Lock.SubmitLockSec = DEFAULT_SUBMIT_LOCK_SEC
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
