package gem

import (
	"strconv"
	"strings"
)

// =====================================
// Typed Accessors
// =====================================

func (e *Entity) typed(key string) (Value, error) {
	if key == "" {
		return Value{}, NewError(ErrorTypeInvalidArgument, "field key must not be empty")
	}
	return e.Get(key)
}

// GetString returns the field as a trimmed string
func (e *Entity) GetString(key string) (string, error) {
	v, err := e.typed(key)
	if err != nil {
		return "", err
	}
	return v.AsString(), nil
}

// GetInt returns the field as an integer; non-numeric values yield 0
func (e *Entity) GetInt(key string) (int64, error) {
	v, err := e.typed(key)
	if err != nil {
		return 0, err
	}
	return v.AsInt(), nil
}

// GetBool returns the truthiness of the field
func (e *Entity) GetBool(key string) (bool, error) {
	v, err := e.typed(key)
	if err != nil {
		return false, err
	}
	return v.AsBool(), nil
}

// GetFloat returns the field as a float; non-numeric values yield 0.0
func (e *Entity) GetFloat(key string) (float64, error) {
	v, err := e.typed(key)
	if err != nil {
		return 0, err
	}
	return v.AsFloat(), nil
}

// GetStringList splits a comma separated field into trimmed, non-empty elements
func (e *Entity) GetStringList(key string) ([]string, error) {
	v, err := e.typed(key)
	if err != nil {
		return nil, err
	}
	return v.AsStringList(), nil
}

// GetIntList splits a comma separated field into integers
func (e *Entity) GetIntList(key string) ([]int64, error) {
	v, err := e.typed(key)
	if err != nil {
		return nil, err
	}
	return v.AsIntList(), nil
}

func (e *Entity) HasString(key string) (bool, error) {
	s, err := e.GetString(key)
	return s != "", err
}

func (e *Entity) HasInt(key string) (bool, error) {
	i, err := e.GetInt(key)
	return i != 0, err
}

func (e *Entity) HasBool(key string) (bool, error) {
	return e.GetBool(key)
}

func (e *Entity) HasFloat(key string) (bool, error) {
	f, err := e.GetFloat(key)
	return f != 0, err
}

// SetStringList stores elements comma-joined
func (e *Entity) SetStringList(key string, list []string) error {
	return e.Set(key, strings.Join(list, ","))
}

// SetIntList stores integers comma-joined
func (e *Entity) SetIntList(key string, list []int64) error {
	parts := make([]string, len(list))
	for i, n := range list {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return e.Set(key, strings.Join(parts, ","))
}

// GetModel returns the nested entity under key, or nil when the key is absent
func (e *Entity) GetModel(key string) (*Entity, error) {
	v, err := e.typed(key)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindEntity:
		return v.Entity(), nil
	default:
		return nil, errorf(ErrorTypeTypeMismatch, "field %q holds a %s, not an entity", key, v.Kind())
	}
}

// GetList returns the nested collection under key. Unlike GetModel, an absent
// key is an error.
func (e *Entity) GetList(key string) (*Collection, error) {
	v, err := e.typed(key)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindNull:
		return nil, errorf(ErrorTypeNotFound, "field %q holds no collection", key)
	case KindCollection:
		return v.Collection(), nil
	default:
		return nil, errorf(ErrorTypeTypeMismatch, "field %q holds a %s, not a collection", key, v.Kind())
	}
}

const orderKey = "order"

// Order returns the numeric "order" field
func (e *Entity) Order() (int64, error) {
	return e.GetInt(orderKey)
}

// SetOrder stores the numeric "order" field
func (e *Entity) SetOrder(order int64) error {
	return e.Set(orderKey, order)
}
