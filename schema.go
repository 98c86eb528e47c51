package gem

import (
	"fmt"
	"reflect"
)

// =====================================
// Entity Schema
// =====================================

// Schema describes one entity subtype served by a mapper
type Schema struct {
	// Name identifies the subtype and its mapper within a session
	Name string `json:"name" yaml:"name"`

	// ReadOnly entities of this subtype reject writes, deletion and cloning
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// Relations maps field names to the subtype their stored ids refer to
	Relations map[string]Relation `json:"relations" yaml:"relations"`
}

// Relation describes a field that stores ids of another subtype
type Relation struct {
	Kind   RelationKind `json:"kind" yaml:"kind"`
	Target string       `json:"target" yaml:"target"`
}

// CheckConfiguration validates the schema
func (s Schema) CheckConfiguration() error {
	if s.Name == "" {
		return NewError(ErrorTypeValidation, "schema name must not be empty")
	}
	for field, rel := range s.Relations {
		if field == "" || field == idKey {
			return errorf(ErrorTypeValidation, "%s: relation field %q is not allowed", s.Name, field)
		}
		if rel.Kind != RelationOne && rel.Kind != RelationMany {
			return errorf(ErrorTypeValidation, "%s: relation %q has unknown kind %q", s.Name, field, rel.Kind)
		}
		if rel.Target == "" {
			return errorf(ErrorTypeValidation, "%s: relation %q has no target", s.Name, field)
		}
	}
	return nil
}

// One declares a single-entity relation to target
func One(target string) Relation {
	return Relation{Kind: RelationOne, Target: target}
}

// Many declares an owned collection relation to target
func Many(target string) Relation {
	return Relation{Kind: RelationMany, Target: target}
}

// relatedIDs reads the stored form of a relation: a slice of ids or a comma separated list
func relatedIDs(raw interface{}) ([]int64, error) {
	if raw == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		ids := make([]int64, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			ids = append(ids, v.AsInt())
		}
		return ids, nil
	}
	v, err := ValueOf(raw)
	if err != nil {
		return nil, err
	}
	if v.Kind() == KindCollection {
		return v.Collection().IDList(), nil
	}
	if v.Kind() == KindEntity {
		return []int64{v.Entity().ID()}, nil
	}
	return v.AsIntList(), nil
}

func relationError(schema, field string, cause error) error {
	return NewErrorWithCause(ErrorTypeTypeMismatch, fmt.Sprintf("%s: relation %q", schema, field), cause)
}
