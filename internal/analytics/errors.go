package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

var (
	// ErrQuery marks a malformed or failed query against either store.
	ErrQuery = errors.New("query failed")

	// ErrStoreUnavailable marks a store that could not be reached before a
	// query was attempted.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store names used in errors, logs and metrics.
const (
	StoreRelational = "relational"
	StoreDocument   = "document"
)

// StoreError carries the store, the aggregator operation and the error kind
// (ErrQuery or ErrStoreUnavailable) of a failed call.
type StoreError struct {
	Store string
	Op    string
	Kind  error
	Err   error
}

func (e *StoreError) Error() string {
	if errors.Is(e.Kind, ErrStoreUnavailable) {
		if e.Err == nil {
			return e.Store + " store not available"
		}
		return fmt.Sprintf("%s store not available: %v", e.Store, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PublicMessage is the human readable text placed in the envelope's error
// field. Unavailable stores always read "<store> store not available".
func PublicMessage(err error) string {
	var se *StoreError
	if errors.As(err, &se) && errors.Is(se.Kind, ErrStoreUnavailable) {
		return se.Store + " store not available"
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func unavailable(store, op string, err error) error {
	return &StoreError{Store: store, Op: op, Kind: ErrStoreUnavailable, Err: err}
}

// classifyRelational wraps a pgx error. Failing to open a connection means
// the store is unreachable; everything else is a query failure.
func classifyRelational(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return unavailable(StoreRelational, op, err)
	}
	return &StoreError{Store: StoreRelational, Op: op, Kind: ErrQuery, Err: err}
}

// classifyDocument wraps a mongo driver error. Failing to select a server
// means the store is unreachable, even when the request deadline fired first.
func classifyDocument(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	var selectionErr topology.ServerSelectionError
	if errors.As(err, &selectionErr) || errors.Is(err, mongo.ErrClientDisconnected) || mongo.IsNetworkError(err) ||
		(mongo.IsTimeout(err) && !errors.Is(err, context.DeadlineExceeded)) {
		return unavailable(StoreDocument, op, err)
	}
	return &StoreError{Store: StoreDocument, Op: op, Kind: ErrQuery, Err: err}
}

// outcome is the metrics label for a classified error.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "query_error"
	}
}
