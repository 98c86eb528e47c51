package gems3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lemmego/gem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testBucket = "gem-test"

// fakeS3 answers path-style S3 requests for a single bucket from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if bucket != testBucket {
		return f.errorResponse(req, http.StatusNotFound, "NoSuchBucket"), nil
	}

	switch {
	case key == "" && req.Method == http.MethodHead:
		return f.response(req, http.StatusOK, nil, nil), nil
	case key == "" && req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return f.list(req), nil
	case req.Method == http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			return f.response(req, http.StatusNotFound, nil, nil), nil
		}
		return f.response(req, http.StatusOK, nil, http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
		}), nil
	case req.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return f.errorResponse(req, http.StatusNotFound, "NoSuchKey"), nil
		}
		return f.response(req, http.StatusOK, body, http.Header{
			"Content-Type": {contentType},
		}), nil
	case req.Method == http.MethodPut:
		body, err := readBody(req)
		if err != nil {
			return nil, err
		}
		f.objects[key] = body
		return f.response(req, http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case req.Method == http.MethodDelete:
		delete(f.objects, key)
		return f.response(req, http.StatusNoContent, nil, nil), nil
	}
	return f.errorResponse(req, http.StatusMethodNotAllowed, "MethodNotAllowed"), nil
}

func (f *fakeS3) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&buf, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount>", testBucket, prefix, len(keys))
	buf.WriteString("<MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>")
	for _, k := range keys {
		fmt.Fprintf(&buf, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
	}
	buf.WriteString("</ListBucketResult>")
	return f.response(req, http.StatusOK, buf.Bytes(), http.Header{"Content-Type": {"application/xml"}})
}

func (f *fakeS3) errorResponse(req *http.Request, status int, code string) *http.Response {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	return f.response(req, status, []byte(body), http.Header{"Content-Type": {"application/xml"}})
}

func (f *fakeS3) response(req *http.Request, status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	if req.Method == http.MethodHead {
		body = nil
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// readBody returns the payload of a PUT, unwrapping aws-chunked framing
func readBody(req *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		return raw, nil
	}
	var out bytes.Buffer
	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func newTestClient(transport http.RoundTripper) *s3.Client {
	return s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
		HTTPClient:                 &http.Client{Transport: transport},
		BaseEndpoint:               aws.String("https://mock.s3.local"),
		UsePathStyle:               true,
		Retryer:                    aws.NopRetryer{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
}

// S3SourceTestSuite drives the real SDK client against an in-memory bucket
type S3SourceTestSuite struct {
	suite.Suite
	fake   *fakeS3
	source *Source
	ctx    context.Context
}

func (suite *S3SourceTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.fake = newFakeS3()
	suite.source = New(newTestClient(suite.fake), testBucket, "notes")
}

func (suite *S3SourceTestSuite) TestCRUD() {
	id, err := suite.source.Insert(suite.ctx, gem.Record{"title": "first", "views": 3, "rating": 4.5, "draft": true})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), id)
	assert.Contains(suite.T(), suite.fake.objects, "notes/1.json")

	rec, found, err := suite.source.Fetch(suite.ctx, id)
	require.NoError(suite.T(), err)
	require.True(suite.T(), found)
	assert.Equal(suite.T(), "first", rec["title"])
	assert.Equal(suite.T(), int64(3), rec["views"])
	assert.Equal(suite.T(), 4.5, rec["rating"])
	assert.Equal(suite.T(), true, rec["draft"])
	assert.Equal(suite.T(), id, rec["id"])

	require.NoError(suite.T(), suite.source.Update(suite.ctx, id, gem.Record{"id": id, "title": "renamed"}))
	rec, _, err = suite.source.Fetch(suite.ctx, id)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "renamed", rec["title"])
	assert.NotContains(suite.T(), rec, "views")

	require.NoError(suite.T(), suite.source.Delete(suite.ctx, id))
	_, found, err = suite.source.Fetch(suite.ctx, id)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), found)
}

func (suite *S3SourceTestSuite) TestMissingObjects() {
	err := suite.source.Update(suite.ctx, 42, gem.Record{"title": "ghost"})
	assert.True(suite.T(), gem.IsNotFound(err))

	err = suite.source.Delete(suite.ctx, 42)
	assert.True(suite.T(), gem.IsNotFound(err))
}

func (suite *S3SourceTestSuite) TestSequence() {
	id, err := suite.source.Insert(suite.ctx, gem.Record{"id": 10, "title": "explicit"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(10), id)

	id, err = suite.source.Insert(suite.ctx, gem.Record{"title": "next"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(11), id)

	_, err = suite.source.Insert(suite.ctx, gem.Record{"id": 10, "title": "again"})
	assert.True(suite.T(), gem.IsDuplicate(err))

	// foreign keys under the prefix are ignored
	suite.fake.objects["notes/readme.txt"] = []byte("x")
	ids, err := suite.source.IDs(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []int64{10, 11}, ids)
}

func (suite *S3SourceTestSuite) TestHealth() {
	assert.NoError(suite.T(), suite.source.Health())

	other := New(newTestClient(suite.fake), "missing-bucket", "notes")
	err := other.Health()
	assert.True(suite.T(), gem.IsNotFound(err))
}

func (suite *S3SourceTestSuite) TestMapperRoundTrip() {
	schema := gem.Schema{
		Name:      "notes",
		Relations: map[string]gem.Relation{"related": gem.Many("notes")},
	}
	session := gem.NewSession()
	mapper := gem.NewMapper(schema, suite.source, gem.WithContext(suite.ctx))
	require.NoError(suite.T(), session.Register(mapper))

	first := mapper.New()
	require.NoError(suite.T(), first.SetData(map[string]interface{}{"title": "first"}))
	require.NoError(suite.T(), mapper.Save(suite.ctx, first))
	second := mapper.New()
	require.NoError(suite.T(), second.SetData(map[string]interface{}{"title": "second"}))
	require.NoError(suite.T(), mapper.Save(suite.ctx, second))

	require.NoError(suite.T(), first.Set("related", gem.NewCollection(first, second)))
	require.NoError(suite.T(), session.Flush(suite.ctx))

	session.Purge()

	reloaded, err := mapper.Find(first.ID())
	require.NoError(suite.T(), err)
	assert.True(suite.T(), reloaded.IsGhost())

	title, err := reloaded.GetString("title")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "first", title)

	related, err := reloaded.GetList("related")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "1,2", related.IDs())
	assert.True(suite.T(), related.Contains(reloaded))

	other, err := related.At(1)
	require.NoError(suite.T(), err)
	title, err = other.GetString("title")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "second", title)

	absent, err := mapper.Find(99)
	require.NoError(suite.T(), err)
	_, err = absent.GetString("title")
	assert.Error(suite.T(), err)
	assert.True(suite.T(), absent.IsDead())
}

func TestS3SourceTestSuite(t *testing.T) {
	suite.Run(t, new(S3SourceTestSuite))
}

func TestIDFromKey(t *testing.T) {
	s := New(nil, testBucket, "/notes/")
	assert.Equal(t, "notes/7.json", s.key(7))
	assert.Equal(t, int64(7), s.idFromKey("notes/7.json"))
	assert.Equal(t, int64(0), s.idFromKey("notes/seven.json"))
	assert.Equal(t, int64(0), s.idFromKey("notes/7.txt"))
	assert.Equal(t, int64(0), s.idFromKey("other/7.json"))
	assert.Equal(t, int64(0), s.idFromKey("notes/-3.json"))
}

func TestRecordEncoding(t *testing.T) {
	body, err := encodeRecord(gem.Record{"id": int64(4), "name": "x", "empty": nil, "n": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","n":2}`, string(body))

	rec, err := decodeRecord(strings.NewReader(`{"n":2,"f":2.5,"big":1e400,"s":"y","b":false}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec["n"])
	assert.Equal(t, 2.5, rec["f"])
	assert.Equal(t, "y", rec["s"])
	assert.Equal(t, false, rec["b"])
	// out of float range, kept verbatim
	assert.Equal(t, "1e400", rec["big"])

	_, err = decodeRecord(strings.NewReader(`not json`))
	assert.True(t, gem.IsErrorType(err, gem.ErrorTypeSerialization))
}

func TestConvertS3Error(t *testing.T) {
	assert.NoError(t, convertS3Error(nil))

	err := convertS3Error(&smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"})
	assert.True(t, gem.IsConnection(err))
	var gemErr gem.Error
	require.ErrorAs(t, err, &gemErr)
	assert.Equal(t, "AccessDenied", gemErr.Code)

	err = convertS3Error(&smithy.GenericAPIError{Code: "NoSuchBucket"})
	assert.True(t, gem.IsNotFound(err))

	err = convertS3Error(&smithy.GenericAPIError{Code: "SlowDown"})
	assert.True(t, gem.IsErrorType(err, gem.ErrorTypeDatabase))

	err = convertS3Error(context.DeadlineExceeded)
	assert.True(t, gem.IsErrorType(err, gem.ErrorTypeTimeout))
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), gem.Config{Driver: "s3", Table: "notes"})
	assert.True(t, gem.IsValidation(err))

	_, err = Open(context.Background(), gem.Config{Driver: "s3", Database: testBucket})
	assert.True(t, gem.IsValidation(err))

	source, err := Open(context.Background(), gem.Config{
		Driver:   "s3",
		Database: testBucket,
		Table:    "notes",
		Username: "AKIA",
		Password: "SECRET",
		Options: map[string]interface{}{
			"s3": map[string]interface{}{
				"region":     "eu-west-1",
				"endpoint":   "https://mock.s3.local",
				"path_style": true,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", source.client.Options().Region)
	assert.True(t, source.client.Options().UsePathStyle)
	assert.Equal(t, "S3", source.ProviderInfo().Name)
	assert.Equal(t, gem.DatabaseTypeObject, source.ProviderInfo().DatabaseType)
	assert.NoError(t, source.Close())
}
