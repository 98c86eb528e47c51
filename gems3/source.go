// Package gems3 provides an S3 backed data source for gem mappers. Each record
// is one JSON object under "<prefix>/<id>.json" in a single bucket.
package gems3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/lemmego/gem"
)

const (
	idField     = "id"
	objectExt   = ".json"
	contentType = "application/json"
)

// =====================================
// Source Implementation
// =====================================

// Source stores records as JSON objects. S3 offers no atomic counter, so ids
// generated by Insert come from listing the prefix; run one writer per prefix.
type Source struct {
	client *s3.Client
	bucket string
	prefix string
	config gem.Config
}

// Open builds an S3 client. config.Database is the bucket and config.Table the
// key prefix. Username and Password, when set, are used as static access keys;
// otherwise the default credential chain applies.
//
// Options under "s3": region (default us-east-1), endpoint, path_style.
func Open(ctx context.Context, cfg gem.Config) (*Source, error) {
	if cfg.Database == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "s3: bucket (database) is required")
	}
	if cfg.Table == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "s3: key prefix (table) is required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.OptionString("s3", "region", "us-east-1")),
	}
	if cfg.Username != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Username, cfg.Password, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, gem.NewErrorWithCause(gem.ErrorTypeConnection, "failed to load AWS configuration", err)
	}

	endpoint := cfg.OptionString("s3", "endpoint", cfg.ConnectionURL)
	pathStyle := cfg.OptionBool("s3", "path_style", false)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	s := New(client, cfg.Database, cfg.Table)
	s.config = cfg
	return s, nil
}

// New serves prefix in bucket through an existing client
func New(client *s3.Client, bucket, prefix string) *Source {
	return &Source{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		config: gem.Config{Database: bucket, Table: prefix},
	}
}

func (s *Source) key(id int64) string {
	return path.Join(s.prefix, strconv.FormatInt(id, 10)+objectExt)
}

// idFromKey parses "<prefix>/<id>.json"; other keys yield 0
func (s *Source) idFromKey(key string) int64 {
	name, ok := strings.CutPrefix(key, s.prefix+"/")
	if !ok {
		return 0
	}
	name, ok = strings.CutSuffix(name, objectExt)
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// Fetch implements gem.DataSource
func (s *Source) Fetch(ctx context.Context, id int64) (gem.Record, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, convertS3Error(err)
	}
	defer out.Body.Close()

	rec, err := decodeRecord(out.Body)
	if err != nil {
		return nil, false, err
	}
	rec[idField] = id
	return rec, true, nil
}

// Insert implements gem.Writer
func (s *Source) Insert(ctx context.Context, rec gem.Record) (int64, error) {
	id := gem.IDFromRecord(rec)
	if id == 0 {
		highest, err := s.highestID(ctx)
		if err != nil {
			return 0, err
		}
		id = highest + 1
	} else {
		exists, err := s.exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, gem.Error{
				Type:    gem.ErrorTypeDuplicate,
				Message: fmt.Sprintf("%s: object %d already exists", s.prefix, id),
			}
		}
	}
	if err := s.put(ctx, id, rec); err != nil {
		return 0, err
	}
	return id, nil
}

// Update implements gem.Writer
func (s *Source) Update(ctx context.Context, id int64, rec gem.Record) error {
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: object %d not found", s.prefix, id),
		}
	}
	return s.put(ctx, id, rec)
}

// Delete implements gem.Writer
func (s *Source) Delete(ctx context.Context, id int64) error {
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: object %d not found", s.prefix, id),
		}
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return convertS3Error(err)
}

// IDs lists the stored ids in key order
func (s *Source) IDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, convertS3Error(err)
		}
		for _, obj := range page.Contents {
			if id := s.idFromKey(aws.ToString(obj.Key)); id > 0 {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (s *Source) highestID(ctx context.Context) (int64, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return 0, err
	}
	var highest int64
	for _, id := range ids {
		highest = max(highest, id)
	}
	return highest, nil
}

func (s *Source) exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, convertS3Error(err)
	}
	return true, nil
}

func (s *Source) put(ctx context.Context, id int64, rec gem.Record) error {
	body, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	return convertS3Error(err)
}

// Health checks that the bucket is reachable
func (s *Source) Health() error {
	_, err := s.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return convertS3Error(err)
}

// Close is a no-op; the SDK client holds no dedicated connection
func (s *Source) Close() error { return nil }

// ProviderInfo returns information about this adapter
func (s *Source) ProviderInfo() gem.ProviderInfo {
	return gem.ProviderInfo{
		Name:         "S3",
		Version:      "1.0.0",
		DatabaseType: gem.DatabaseTypeObject,
		Features:     []gem.Feature{gem.FeatureWrite, gem.FeatureSequence},
	}
}

var _ gem.Provider = (*Source)(nil)

// =====================================
// Encoding
// =====================================

func encodeRecord(rec gem.Record) ([]byte, error) {
	doc := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		if k != idField && v != nil {
			doc[k] = v
		}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, gem.NewErrorWithCause(gem.ErrorTypeSerialization, "encode record", err)
	}
	return body, nil
}

// decodeRecord keeps integers as int64; other numbers become float64
func decodeRecord(r io.Reader) (gem.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, gem.NewErrorWithCause(gem.ErrorTypeSerialization, "decode record", err)
	}
	rec := make(gem.Record, len(doc))
	for k, v := range doc {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				rec[k] = i
			} else if f, err := n.Float64(); err == nil {
				rec[k] = f
			} else {
				rec[k] = n.String()
			}
			continue
		}
		rec[k] = v
	}
	return rec, nil
}

// =====================================
// Error Conversion
// =====================================

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// convertS3Error converts SDK errors to gem errors
func convertS3Error(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: "object not found",
			Cause:   err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return gem.Error{
				Type:    gem.ErrorTypeNotFound,
				Message: "bucket not found",
				Cause:   err,
				Code:    apiErr.ErrorCode(),
			}
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return gem.Error{
				Type:    gem.ErrorTypeConnection,
				Message: "access denied",
				Cause:   err,
				Code:    apiErr.ErrorCode(),
			}
		}
		return gem.Error{
			Type:    gem.ErrorTypeDatabase,
			Message: "S3 operation failed",
			Cause:   err,
			Code:    apiErr.ErrorCode(),
		}
	}

	return gem.Error{
		Type:    gem.ErrorTypeConnection,
		Message: "S3 request failed",
		Cause:   err,
	}
}
