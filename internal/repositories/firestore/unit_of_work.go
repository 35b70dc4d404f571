package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

type scopeKey struct{}

// txScope collects the writes of one transaction attempt. Firestore rejects reads issued after
// the first write, so writes are staged and applied when the callback returns. Staged documents
// are visible to later point reads in the same scope; queries only see committed data.
type txScope struct {
	tx     *firestore.Transaction
	staged map[string]*stagedWrite
	order  []string
}

type stagedWrite struct {
	ref    *firestore.DocumentRef
	value  any
	create bool
}

func (s *txScope) stage(ref *firestore.DocumentRef, value any, create bool) {
	if w, ok := s.staged[ref.Path]; ok {
		w.value = value
		return
	}
	s.staged[ref.Path] = &stagedWrite{ref: ref, value: value, create: create}
	s.order = append(s.order, ref.Path)
}

func (s *txScope) flush() error {
	for _, path := range s.order {
		w := s.staged[path]
		var err error
		if w.create {
			err = s.tx.Create(w.ref, w.value)
		} else {
			err = s.tx.Set(w.ref, w.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// UnitOfWork implements repositories.UnitOfWork on Firestore transactions.
type UnitOfWork struct {
	provider *pfirestore.Provider
	opts     []pfirestore.TxOption
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork constructs a UnitOfWork bound to the provider.
func NewUnitOfWork(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider, opts: opts}, nil
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction. Firestore may rerun
// fn on contention, so fn must not keep state across attempts.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if scopeFrom(ctx) != nil {
		return fn(ctx)
	}
	// Callback errors are returned as-is so domain errors are not rewrapped as repository errors.
	var fnErr error
	err := u.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		scope := &txScope{tx: tx, staged: make(map[string]*stagedWrite)}
		fnErr = fn(context.WithValue(txCtx, scopeKey{}, scope))
		if fnErr != nil {
			return fnErr
		}
		return scope.flush()
	}, u.opts...)
	if fnErr != nil {
		return fnErr
	}
	return err
}

func scopeFrom(ctx context.Context) *txScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeKey{}).(*txScope)
	return scope
}

// readDoc loads and decodes ref, honouring staged writes of the current transaction. found is
// false when the document does not exist.
func readDoc[T any](ctx context.Context, ref *firestore.DocumentRef) (doc T, found bool, err error) {
	var snap *firestore.DocumentSnapshot
	if scope := scopeFrom(ctx); scope != nil {
		if w, ok := scope.staged[ref.Path]; ok {
			if staged, ok := w.value.(T); ok {
				return staged, true, nil
			}
		}
		snap, err = scope.tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if status.Code(err) == codes.NotFound {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	if err := snap.DataTo(&doc); err != nil {
		return doc, false, fmt.Errorf("decode %s: %w", ref.Path, err)
	}
	return doc, true, nil
}

// writeDoc stages the write inside a transaction or applies it immediately otherwise.
func writeDoc(ctx context.Context, ref *firestore.DocumentRef, value any, create bool) error {
	if scope := scopeFrom(ctx); scope != nil {
		scope.stage(ref, value, create)
		return nil
	}
	var err error
	if create {
		_, err = ref.Create(ctx, value)
	} else {
		_, err = ref.Set(ctx, value)
	}
	return err
}

type queried[T any] struct {
	id  string
	doc T
}

func queryDocs[T any](ctx context.Context, query firestore.Query) ([]queried[T], error) {
	var iter *firestore.DocumentIterator
	if scope := scopeFrom(ctx); scope != nil {
		iter = scope.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var out []queried[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc T
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.Path, err)
		}
		out = append(out, queried[T]{id: snap.Ref.ID, doc: doc})
	}
	return out, nil
}

func notFoundError(op, id string) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, "%s not found", id))
}
