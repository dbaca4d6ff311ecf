package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Vector index drivers.
const (
	VectorDriverPgvector = "pgvector"
	VectorDriverWeaviate = "weaviate"
)

// CutoffLayout is the date layout of documents.displayed_since.
const CutoffLayout = "2006-01-02"

const secretMask = "********"

// Config holds the complete application configuration.
type Config struct {
	Mongo       MongoConfig       `mapstructure:"mongo"        yaml:"mongo"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"       yaml:"openai"`
	Documents   DocumentsConfig   `mapstructure:"documents"    yaml:"documents"`
	Batch       BatchConfig       `mapstructure:"batch"        yaml:"batch"`
	Poller      PollerConfig      `mapstructure:"poller"       yaml:"poller"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index" yaml:"vector_index"`
	Database    DatabaseConfig    `mapstructure:"database"     yaml:"database"`
	Weaviate    WeaviateConfig    `mapstructure:"weaviate"     yaml:"weaviate"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	NATS        NATSConfig        `mapstructure:"nats"         yaml:"nats"`
	Redis       RedisConfig       `mapstructure:"redis"        yaml:"redis"`
	Log         LogConfig         `mapstructure:"log"          yaml:"log"`
}

// MongoConfig holds the document store and job bookkeeping connection.
type MongoConfig struct {
	URI         string           `mapstructure:"uri"         yaml:"uri"`
	Database    string           `mapstructure:"database"    yaml:"database"`
	Timeout     time.Duration    `mapstructure:"timeout"     yaml:"timeout"`
	Collections MongoCollections `mapstructure:"collections" yaml:"collections"`
}

// MongoCollections names the collections the job reads and writes.
type MongoCollections struct {
	Articles string `mapstructure:"articles" yaml:"articles"`
	Jobs     string `mapstructure:"jobs"     yaml:"jobs"`
	Batches  string `mapstructure:"batches"  yaml:"batches"`
	Logs     string `mapstructure:"logs"     yaml:"logs"`
}

// OpenAIConfig holds the batch embedding provider configuration.
type OpenAIConfig struct {
	APIKey           string        `mapstructure:"api_key"           yaml:"api_key"`
	BaseURL          string        `mapstructure:"base_url"          yaml:"base_url"`
	Model            string        `mapstructure:"model"             yaml:"model"`
	Endpoint         string        `mapstructure:"endpoint"          yaml:"endpoint"`
	CompletionWindow string        `mapstructure:"completion_window" yaml:"completion_window"`
	EncodingFormat   string        `mapstructure:"encoding_format"   yaml:"encoding_format"`
	Dimensions       int           `mapstructure:"dimensions"        yaml:"dimensions"`
	MaxRetries       int           `mapstructure:"max_retries"       yaml:"max_retries"`
	Timeout          time.Duration `mapstructure:"timeout"           yaml:"timeout"`
}

// DocumentsConfig selects the documents to embed.
type DocumentsConfig struct {
	DisplayedSince string `mapstructure:"displayed_since" yaml:"displayed_since"` // YYYY-MM-DD, inclusive
	PublishedState string `mapstructure:"published_state" yaml:"published_state"`
	MaxDocuments   int    `mapstructure:"max_documents"   yaml:"max_documents"` // 0 = no cap
}

// Cutoff parses DisplayedSince as a UTC date.
func (d DocumentsConfig) Cutoff() (time.Time, error) {
	return time.ParseInLocation(CutoffLayout, d.DisplayedSince, time.UTC)
}

// BatchConfig holds batch building and submission configuration.
type BatchConfig struct {
	Size                  int           `mapstructure:"size"                    yaml:"size"`
	SubmitConcurrency     int           `mapstructure:"submit_concurrency"      yaml:"submit_concurrency"`
	MaxSubmissionAttempts int           `mapstructure:"max_submission_attempts" yaml:"max_submission_attempts"`
	InitialBackoff        time.Duration `mapstructure:"initial_backoff"         yaml:"initial_backoff"`
	MaxBackoff            time.Duration `mapstructure:"max_backoff"             yaml:"max_backoff"`
	ScratchDir            string        `mapstructure:"scratch_dir"             yaml:"scratch_dir"` // empty = os.TempDir()
	MaxInputTokens        int           `mapstructure:"max_input_tokens"        yaml:"max_input_tokens"`
}

// PollerConfig holds status polling configuration.
type PollerConfig struct {
	Interval    time.Duration `mapstructure:"interval"     yaml:"interval"`
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
}

// VectorIndexConfig selects the vector index backend.
type VectorIndexConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Name   string `mapstructure:"name"   yaml:"name"`
}

// DatabaseConfig holds the pgvector database configuration.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"            yaml:"host"`
	Port           int    `mapstructure:"port"            yaml:"port"`
	User           string `mapstructure:"user"            yaml:"user"`
	Password       string `mapstructure:"password"        yaml:"password"`
	Name           string `mapstructure:"name"            yaml:"name"`
	Schema         string `mapstructure:"schema"          yaml:"schema"`
	SSLMode        string `mapstructure:"sslmode"         yaml:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.MaxConnections > 0 {
		q.Set("pool_max_conns", fmt.Sprint(d.MaxConnections))
	}
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// WeaviateConfig holds the Weaviate connection.
type WeaviateConfig struct {
	Host   string `mapstructure:"host"    yaml:"host"`
	Scheme string `mapstructure:"scheme"  yaml:"scheme"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// ObjectStoreConfig holds the artifact mirror configuration. An empty bucket
// disables mirroring.
type ObjectStoreConfig struct {
	Bucket       string `mapstructure:"bucket"         yaml:"bucket"`
	Prefix       string `mapstructure:"prefix"         yaml:"prefix"`
	Region       string `mapstructure:"region"         yaml:"region"`
	Endpoint     string `mapstructure:"endpoint"       yaml:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// NATSConfig holds NATS configuration. An empty URL disables stage events.
type NATSConfig struct {
	URL           string        `mapstructure:"url"            yaml:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// RedisConfig holds the job lock backend. An empty address disables locking.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"       yaml:"addr"`
	Username  string        `mapstructure:"username"   yaml:"username"`
	Password  string        `mapstructure:"password"   yaml:"password"`
	DB        int           `mapstructure:"db"         yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"   yaml:"lock_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `mapstructure:"level"         yaml:"level"`
	Format      string `mapstructure:"format"        yaml:"format"`
	JobLogLevel string `mapstructure:"job_log_level" yaml:"job_log_level"`
}

// SetDefaults registers the default value of every key. Keys without a
// default are invisible to environment overrides, so secrets default to "".
func SetDefaults(v *viper.Viper) {
	// Mongo defaults
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "content")
	v.SetDefault("mongo.timeout", "30s")
	v.SetDefault("mongo.collections.articles", "article")
	v.SetDefault("mongo.collections.jobs", "article-embedding-job")
	v.SetDefault("mongo.collections.batches", "article-embedding-job-batch")
	v.SetDefault("mongo.collections.logs", "article-embedding-job-log")

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "text-embedding-3-small")
	v.SetDefault("openai.endpoint", "/v1/embeddings")
	v.SetDefault("openai.completion_window", "24h")
	v.SetDefault("openai.encoding_format", "float")
	v.SetDefault("openai.dimensions", 1536)
	v.SetDefault("openai.max_retries", 2)
	v.SetDefault("openai.timeout", "2m")

	// Document selection defaults
	v.SetDefault("documents.displayed_since", "2022-01-01")
	v.SetDefault("documents.published_state", "Published")
	v.SetDefault("documents.max_documents", 10000)

	// Batch defaults
	v.SetDefault("batch.size", 32)
	v.SetDefault("batch.submit_concurrency", 4)
	v.SetDefault("batch.max_submission_attempts", 5)
	v.SetDefault("batch.initial_backoff", "2s")
	v.SetDefault("batch.max_backoff", "1m")
	v.SetDefault("batch.max_input_tokens", 8191)
	v.SetDefault("batch.scratch_dir", "")

	// Poller defaults
	v.SetDefault("poller.interval", "5m")
	v.SetDefault("poller.max_duration", "25h")

	// Vector index defaults
	v.SetDefault("vector_index.driver", VectorDriverPgvector)
	v.SetDefault("vector_index.name", "article_embeddings")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "embeddings")
	v.SetDefault("database.user", "embedjob")
	v.SetDefault("database.password", "")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)

	// Weaviate defaults
	v.SetDefault("weaviate.host", "localhost:8080")
	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.api_key", "")

	// Object store defaults
	v.SetDefault("object_store.bucket", "")
	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.use_path_style", false)
	v.SetDefault("object_store.prefix", "batch-requests")
	v.SetDefault("object_store.region", "us-east-1")

	// NATS defaults
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "embedjob.job")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Redis defaults
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "embedjob:lock:")
	v.SetDefault("redis.lock_ttl", "30h")

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.job_log_level", "info")
}

// New creates a new Config instance from Viper.
func New(v *viper.Viper) (*Config, error) {
	var config Config

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	// Required fields validation
	check(c.Mongo.URI != "", "mongo.uri is required")
	check(c.Mongo.Database != "", "mongo.database is required")
	check(c.OpenAI.Model != "", "openai.model is required")
	check(c.OpenAI.Endpoint != "", "openai.endpoint is required")
	check(c.Documents.PublishedState != "", "documents.published_state is required")
	check(c.VectorIndex.Name != "", "vector_index.name is required")

	if _, err := c.Documents.Cutoff(); err != nil {
		errs = append(errs, fmt.Errorf("documents.displayed_since must be a %s date: %w", CutoffLayout, err))
	}

	// Validate numeric ranges
	check(c.OpenAI.Dimensions > 0, "openai.dimensions must be positive")
	check(c.Documents.MaxDocuments >= 0, "documents.max_documents must not be negative")
	check(c.Batch.Size > 0, "batch.size must be at least 1")
	check(c.Batch.SubmitConcurrency > 0, "batch.submit_concurrency must be at least 1")
	check(c.Batch.MaxSubmissionAttempts > 0, "batch.max_submission_attempts must be at least 1")
	check(c.Batch.InitialBackoff >= 0, "batch.initial_backoff must not be negative")
	check(c.Batch.MaxBackoff >= c.Batch.InitialBackoff, "batch.max_backoff must not be below batch.initial_backoff")
	check(c.Batch.MaxInputTokens >= 0, "batch.max_input_tokens must not be negative")
	check(c.Poller.Interval > 0, "poller.interval must be positive")
	check(c.Poller.MaxDuration > 0, "poller.max_duration must be positive")

	switch c.VectorIndex.Driver {
	case VectorDriverPgvector:
		check(c.Database.Port >= 1 && c.Database.Port <= 65535, "database.port must be between 1 and 65535")
		check(c.Database.Name != "", "database.name is required")
	case VectorDriverWeaviate:
		check(c.Weaviate.Host != "", "weaviate.host is required")
	default:
		errs = append(errs, fmt.Errorf("vector_index.driver must be %q or %q, got %q",
			VectorDriverPgvector, VectorDriverWeaviate, c.VectorIndex.Driver))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with every secret masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return secretMask
	}
	c.OpenAI.APIKey = mask(c.OpenAI.APIKey)
	c.Database.Password = mask(c.Database.Password)
	c.Weaviate.APIKey = mask(c.Weaviate.APIKey)
	c.Redis.Password = mask(c.Redis.Password)
	if u, err := url.Parse(c.Mongo.URI); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), secretMask)
			c.Mongo.URI = u.String()
		}
	}
	return c
}
