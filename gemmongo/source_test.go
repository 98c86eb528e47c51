package gemmongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lemmego/gem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoSourceTestSuite struct {
	suite.Suite
	source *Source
	ctx    context.Context
}

func (suite *MongoSourceTestSuite) SetupSuite() {
	config := gem.Config{
		Driver:   "mongodb",
		Host:     "localhost",
		Port:     27017,
		Database: "test_gem_mongo",
		Table:    "books",
		Options: map[string]interface{}{
			"mongo": map[string]interface{}{
				"max_pool_size": 10,
				"min_pool_size": 1,
				"timeout":       "2s",
			},
		},
	}

	source, err := Open(config)
	if err != nil {
		suite.T().Skip("MongoDB not available for testing:", err)
		return
	}
	suite.source = source
	suite.ctx = context.Background()
}

func (suite *MongoSourceTestSuite) TearDownSuite() {
	if suite.source != nil {
		suite.source.Drop(suite.ctx)
		suite.source.Close()
	}
}

func (suite *MongoSourceTestSuite) SetupTest() {
	require.NoError(suite.T(), suite.source.Drop(suite.ctx))
}

func (suite *MongoSourceTestSuite) TestCRUD() {
	id, err := suite.source.Insert(suite.ctx, gem.Record{"title": "Dune", "year": 1965})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), id)

	rec, found, err := suite.source.Fetch(suite.ctx, id)
	require.NoError(suite.T(), err)
	require.True(suite.T(), found)
	assert.Equal(suite.T(), "Dune", rec["title"])
	assert.Equal(suite.T(), id, gem.IDFromRecord(rec))

	require.NoError(suite.T(), suite.source.Update(suite.ctx, id, gem.Record{"title": "Dune Messiah", "year": 1969}))
	rec, _, err = suite.source.Fetch(suite.ctx, id)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Dune Messiah", rec["title"])

	require.NoError(suite.T(), suite.source.Delete(suite.ctx, id))
	_, found, err = suite.source.Fetch(suite.ctx, id)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), found)

	assert.True(suite.T(), gem.IsNotFound(suite.source.Delete(suite.ctx, id)))
	assert.True(suite.T(), gem.IsNotFound(suite.source.Update(suite.ctx, id, gem.Record{"title": "gone"})))
}

func (suite *MongoSourceTestSuite) TestCounterFollowsExplicitIDs() {
	id, err := suite.source.Insert(suite.ctx, gem.Record{"id": 50, "title": "fifty"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(50), id)

	id, err = suite.source.Insert(suite.ctx, gem.Record{"title": "next"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(51), id)

	_, err = suite.source.Insert(suite.ctx, gem.Record{"id": 50, "title": "again"})
	assert.True(suite.T(), gem.IsDuplicate(err))
}

func (suite *MongoSourceTestSuite) TestMapperOverMongo() {
	_, err := suite.source.Insert(suite.ctx, gem.Record{"id": 1, "title": "Dune", "sequels": []int64{2}})
	require.NoError(suite.T(), err)
	_, err = suite.source.Insert(suite.ctx, gem.Record{"id": 2, "title": "Dune Messiah", "sequels": []int64{}})
	require.NoError(suite.T(), err)

	books := gem.NewMapper(gem.Schema{
		Name:      "book",
		Relations: map[string]gem.Relation{"sequels": gem.Many("book")},
	}, suite.source)

	dune, err := books.Find(1)
	require.NoError(suite.T(), err)
	sequels, err := dune.GetList("sequels")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, sequels.Len())

	messiah, err := books.Find(2)
	require.NoError(suite.T(), err)
	first, err := sequels.At(0)
	require.NoError(suite.T(), err)
	assert.Same(suite.T(), messiah, first)

	require.NoError(suite.T(), messiah.Set("title", "Dune Messiah (1969)"))
	require.NoError(suite.T(), books.Flush(suite.ctx))

	rec, _, err := suite.source.Fetch(suite.ctx, 2)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Dune Messiah (1969)", rec["title"])
}

func TestMongoSourceSuite(t *testing.T) {
	suite.Run(t, new(MongoSourceTestSuite))
}

// =====================================
// Unit Tests
// =====================================

func TestDocumentConversion(t *testing.T) {
	doc := toDocument(7, gem.Record{"id": 7, "title": "x", "tags": "a,b"})
	assert.Equal(t, int64(7), doc["_id"])
	assert.NotContains(t, doc, "id")
	assert.Equal(t, "x", doc["title"])

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := fromDocument(bson.M{
		"_id":     int64(7),
		"title":   "x",
		"created": primitive.NewDateTimeFromTime(when),
		"members": primitive.A{int32(1), int64(2), "3"},
		"meta":    bson.M{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec["id"])
	assert.NotContains(t, rec, "_id")
	assert.Equal(t, when, rec["created"])
	assert.Equal(t, "1,2,3", rec["members"])
	assert.JSONEq(t, `{"k":"v"}`, rec["meta"].(string))
}

func TestBuildConnectionURI(t *testing.T) {
	assert.Equal(t, "mongodb://localhost:27017/gem", buildConnectionURI(gem.Config{Database: "gem"}))
	assert.Equal(t, "mongodb://u:p@db:27018/gem?ssl=true&sslCAFile=/ca.pem",
		buildConnectionURI(gem.Config{
			Username: "u", Password: "p", Host: "db", Port: 27018, Database: "gem",
			SSL: gem.SSLConfig{Enabled: true, CAFile: "/ca.pem"},
		}))
	assert.Equal(t, "mongodb://override", buildConnectionURI(gem.Config{ConnectionURL: "mongodb://override"}))
}

func TestConvertMongoError(t *testing.T) {
	assert.Nil(t, convertMongoError(nil))
	assert.True(t, gem.IsNotFound(convertMongoError(mongo.ErrNoDocuments)))

	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
	assert.True(t, gem.IsDuplicate(convertMongoError(dup)))

	assert.True(t, gem.IsNotFound(convertMongoError(mongo.CommandError{Code: 26, Message: "ns not found"})))
	assert.True(t, gem.IsErrorType(convertMongoError(context.DeadlineExceeded), gem.ErrorTypeTimeout))
	assert.True(t, gem.IsErrorType(convertMongoError(errors.New("boom")), gem.ErrorTypeDatabase))
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(gem.Config{Driver: "mongodb", Database: "gem"})
	assert.True(t, gem.IsValidation(err))

	_, err = Open(gem.Config{Driver: "mongodb", Table: "books"})
	assert.True(t, gem.IsValidation(err))
}
