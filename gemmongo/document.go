package gemmongo

import (
	"fmt"
	"strings"

	"github.com/lemmego/gem"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// toDocument maps a record onto a document keyed by _id
func toDocument(id int64, rec gem.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		if k == idField || k == documentIDField {
			continue
		}
		doc[k] = v
	}
	doc[documentIDField] = id
	return doc
}

// fromDocument flattens a document into the scalar values entities hold.
// Arrays become comma separated lists; embedded documents become extended JSON.
func fromDocument(doc bson.M) (gem.Record, error) {
	rec := make(gem.Record, len(doc))
	for k, v := range doc {
		if k == documentIDField {
			k = idField
		}
		flat, err := flatten(v)
		if err != nil {
			return nil, gem.NewErrorWithCause(gem.ErrorTypeSerialization, fmt.Sprintf("field %q", k), err)
		}
		rec[k] = flat
	}
	return rec, nil
}

func flatten(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC(), nil
	case primitive.ObjectID:
		return val.Hex(), nil
	case primitive.Decimal128:
		return val.String(), nil
	case primitive.Binary:
		return val.Data, nil
	case primitive.A:
		parts := make([]string, 0, len(val))
		for _, el := range val {
			flat, err := flatten(el)
			if err != nil {
				return nil, err
			}
			s, err := gem.ValueOf(flat)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s.AsString())
		}
		return strings.Join(parts, ","), nil
	case bson.M, bson.D:
		out, err := bson.MarshalExtJSON(val, false, false)
		if err != nil {
			return nil, err
		}
		return string(out), nil
	default:
		return v, nil
	}
}
