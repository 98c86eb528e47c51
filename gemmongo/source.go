// Package gemmongo provides a MongoDB backed data source for gem mappers
package gemmongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lemmego/gem"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	idField         = "id"
	documentIDField = "_id"
	countersSuffix  = "_counters"
)

// =====================================
// Source Implementation
// =====================================

// Source stores records as documents of one collection. The document _id is
// the entity id; new ids come from a counter document in a sibling collection.
type Source struct {
	client     *mongo.Client
	database   *mongo.Database
	collection *mongo.Collection
	counters   *mongo.Collection
	config     gem.Config
	timeout    time.Duration
}

// Open connects to MongoDB and serves the collection named by config.Table.
//
// Options under "mongo": max_pool_size, min_pool_size, max_idle_time, timeout.
func Open(config gem.Config) (*Source, error) {
	if config.Table == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "mongo: collection (table) is required")
	}
	if config.Database == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "mongo: database is required")
	}

	clientOpts := options.Client().ApplyURI(buildConnectionURI(config))
	applyClientOptions(clientOpts, config)

	timeout := config.OptionDuration("mongo", "timeout", 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to connect to MongoDB",
			Cause:   err,
		}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to ping MongoDB",
			Cause:   err,
		}
	}

	s := New(client.Database(config.Database), config.Table)
	s.client = client
	s.config = config
	s.timeout = timeout
	return s, nil
}

// New serves collection name of an existing database handle
func New(database *mongo.Database, name string) *Source {
	return &Source{
		client:     database.Client(),
		database:   database,
		collection: database.Collection(name),
		counters:   database.Collection(name + countersSuffix),
		config:     gem.Config{Database: database.Name(), Table: name},
		timeout:    5 * time.Second,
	}
}

// Collection returns the served collection
func (s *Source) Collection() *mongo.Collection { return s.collection }

// Fetch implements gem.DataSource
func (s *Source) Fetch(ctx context.Context, id int64) (gem.Record, bool, error) {
	var doc bson.M
	err := s.collection.FindOne(ctx, bson.M{documentIDField: id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, convertMongoError(err)
	}
	rec, err := fromDocument(doc)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Insert implements gem.Writer
func (s *Source) Insert(ctx context.Context, rec gem.Record) (int64, error) {
	id := gem.IDFromRecord(rec)
	var err error
	if id == 0 {
		id, err = s.nextID(ctx)
	} else {
		err = s.raiseCounter(ctx, id)
	}
	if err != nil {
		return 0, err
	}

	if _, err := s.collection.InsertOne(ctx, toDocument(id, rec)); err != nil {
		return 0, convertMongoError(err)
	}
	return id, nil
}

// Update implements gem.Writer
func (s *Source) Update(ctx context.Context, id int64, rec gem.Record) error {
	res, err := s.collection.ReplaceOne(ctx, bson.M{documentIDField: id}, toDocument(id, rec))
	if err != nil {
		return convertMongoError(err)
	}
	if res.MatchedCount == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: document %d not found", s.collection.Name(), id),
		}
	}
	return nil
}

// Delete implements gem.Writer
func (s *Source) Delete(ctx context.Context, id int64) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{documentIDField: id})
	if err != nil {
		return convertMongoError(err)
	}
	if res.DeletedCount == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: document %d not found", s.collection.Name(), id),
		}
	}
	return nil
}

func (s *Source) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{documentIDField: s.collection.Name()},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, convertMongoError(err)
	}
	return counter.Seq, nil
}

// raiseCounter keeps generated ids above an explicitly inserted one
func (s *Source) raiseCounter(ctx context.Context, id int64) error {
	_, err := s.counters.UpdateOne(ctx,
		bson.M{documentIDField: s.collection.Name()},
		bson.M{"$max": bson.M{"seq": id}},
		options.Update().SetUpsert(true),
	)
	return convertMongoError(err)
}

// Drop removes the collection and its id counter
func (s *Source) Drop(ctx context.Context) error {
	if err := s.collection.Drop(ctx); err != nil {
		return convertMongoError(err)
	}
	return convertMongoError(s.counters.Drop(ctx))
}

// Health checks the database connection health
func (s *Source) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *Source) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ProviderInfo returns information about this adapter
func (s *Source) ProviderInfo() gem.ProviderInfo {
	return gem.ProviderInfo{
		Name:         "MongoDB",
		Version:      "1.0.0",
		DatabaseType: gem.DatabaseTypeDocument,
		Features:     []gem.Feature{gem.FeatureWrite, gem.FeatureSequence, gem.FeatureIndexing},
	}
}

var _ gem.Provider = (*Source)(nil)

// =====================================
// Connection Helpers
// =====================================

func buildConnectionURI(config gem.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	uri := "mongodb://"
	if config.Username != "" {
		uri += config.Username
		if config.Password != "" {
			uri += ":" + config.Password
		}
		uri += "@"
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 27017
	}
	uri += fmt.Sprintf("%s:%d", host, port)

	if config.Database != "" {
		uri += "/" + config.Database
	}

	if config.SSL.Enabled {
		params := []string{"ssl=true"}
		if config.SSL.CAFile != "" {
			params = append(params, "sslCAFile="+config.SSL.CAFile)
		}
		if config.SSL.CertFile != "" {
			params = append(params, "sslCertificateKeyFile="+config.SSL.CertFile)
		}
		uri += "?" + strings.Join(params, "&")
	}
	return uri
}

func applyClientOptions(clientOpts *options.ClientOptions, config gem.Config) {
	if n := config.OptionInt("mongo", "max_pool_size", 0); n > 0 {
		clientOpts.SetMaxPoolSize(uint64(n))
	}
	if n := config.OptionInt("mongo", "min_pool_size", 0); n > 0 {
		clientOpts.SetMinPoolSize(uint64(n))
	}
	if d := config.OptionDuration("mongo", "max_idle_time", 0); d > 0 {
		clientOpts.SetMaxConnIdleTime(d)
	}
	if config.MaxOpenConns > 0 {
		clientOpts.SetMaxPoolSize(uint64(config.MaxOpenConns))
	}
}
