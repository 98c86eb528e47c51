package gemmongo

import (
	"context"
	"errors"
	"strings"

	"github.com/lemmego/gem"
	"go.mongodb.org/mongo-driver/mongo"
)

// convertMongoError converts MongoDB errors to gem errors
func convertMongoError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: "document not found",
			Cause:   err,
		}
	case errors.Is(err, mongo.ErrNilDocument), errors.Is(err, mongo.ErrNilValue):
		return gem.Error{
			Type:    gem.ErrorTypeValidation,
			Message: "nil document provided",
			Cause:   err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}

	if mongo.IsDuplicateKeyError(err) {
		return gem.Error{
			Type:    gem.ErrorTypeDuplicate,
			Message: "duplicate key violation",
			Cause:   err,
		}
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code == 121 { // DocumentValidationFailure
				return gem.Error{
					Type:    gem.ErrorTypeValidation,
					Message: "document validation failed",
					Cause:   err,
				}
			}
		}
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 26, 48: // NamespaceNotFound, CollectionNotFound
			return gem.Error{
				Type:    gem.ErrorTypeNotFound,
				Message: "collection not found",
				Cause:   err,
			}
		case 13, 18: // Unauthorized, AuthenticationFailed
			return gem.Error{
				Type:    gem.ErrorTypeConnection,
				Message: "authentication failed",
				Cause:   err,
			}
		}
	}

	if mongo.IsTimeout(err) {
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}

	errStr := strings.ToLower(err.Error())
	if mongo.IsNetworkError(err) || strings.Contains(errStr, "connection") {
		return gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "connection error",
			Cause:   err,
		}
	}

	return gem.Error{
		Type:    gem.ErrorTypeDatabase,
		Message: "database operation failed",
		Cause:   err,
	}
}
