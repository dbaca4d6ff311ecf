// Package mongodb implements the document, job, batch and job log ports on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names used when CollectionNames leaves a field empty.
const (
	DefaultArticlesCollection = "article"
	DefaultJobsCollection     = "article-embedding-job"
	DefaultBatchesCollection  = "article-embedding-job-batch"
	DefaultLogsCollection     = "article-embedding-job-log"
)

// ConnectionConfig represents MongoDB connection configuration.
type ConnectionConfig struct {
	URI      string
	Database string
	// Timeout bounds connecting and the initial ping.
	Timeout time.Duration
}

// Validate validates the connection configuration.
func (c ConnectionConfig) Validate() error {
	if c.URI == "" {
		return errors.New("uri is required")
	}
	if c.Database == "" {
		return errors.New("database is required")
	}
	return nil
}

// CollectionNames names the collections the adapters use.
type CollectionNames struct {
	Articles string
	Jobs     string
	Batches  string
	Logs     string
}

func (n CollectionNames) withDefaults() CollectionNames {
	if n.Articles == "" {
		n.Articles = DefaultArticlesCollection
	}
	if n.Jobs == "" {
		n.Jobs = DefaultJobsCollection
	}
	if n.Batches == "" {
		n.Batches = DefaultBatchesCollection
	}
	if n.Logs == "" {
		n.Logs = DefaultLogsCollection
	}
	return n
}

// Connection holds the client and the database every repository shares.
type Connection struct {
	client      *mongo.Client
	db          *mongo.Database
	collections CollectionNames
}

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, config ConnectionConfig, collections CollectionNames) (*Connection, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientOptions := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	conn := &Connection{
		client:      client,
		db:          client.Database(config.Database),
		collections: collections.withDefaults(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return conn, nil
}

// Ping checks the primary is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (c *Connection) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Connection) collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}
