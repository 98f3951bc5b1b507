// SPDX-License-Identifier: Apache-2.0

// Package memory is an in-process entity store used by tests and by
// STORE=memory deployments. Documents are kept in their JSON form so filters,
// sorts and partial updates behave like the Postgres document tables.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/google/uuid"
)

type document = map[string]any

type Collection[T any] struct {
	mu   sync.RWMutex
	name string
	docs map[uuid.UUID]document
	now  func() time.Time
}

func NewCollection[T any](name string, now func() time.Time) *Collection[T] {
	if now == nil {
		now = time.Now
	}
	return &Collection[T]{
		name: name,
		docs: make(map[uuid.UUID]document),
		now:  now,
	}
}

func (c *Collection[T]) List(ctx context.Context, sortBy string, limit int) ([]T, error) {
	return c.Filter(ctx, nil, sortBy, limit)
}

func (c *Collection[T]) Filter(_ context.Context, q store.Query, sortBy string, limit int) ([]T, error) {
	field, desc, err := store.ParseSort(sortBy)
	if err != nil {
		return nil, err
	}
	want, err := toDocument(q)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := make([]document, 0, len(c.docs))
	for _, doc := range c.docs {
		if matches(doc, want) {
			matched = append(matched, doc)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		cmp := compareValues(matched[i][field], matched[j][field])
		if cmp == 0 {
			return fmt.Sprint(matched[i]["id"]) < fmt.Sprint(matched[j]["id"])
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]T, 0, len(matched))
	for _, doc := range matched {
		v, err := fromDocument[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) Get(_ context.Context, id uuid.UUID) (T, error) {
	c.mu.RLock()
	doc, ok := c.docs[id]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", c.name, id, domain.ErrNotFound)
	}
	return fromDocument[T](doc)
}

func (c *Collection[T]) Create(_ context.Context, v T) (T, error) {
	var zero T
	doc, err := toDocument(v)
	if err != nil {
		return zero, err
	}

	id, _ := uuid.Parse(fmt.Sprint(doc["id"]))
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := c.now().UTC()
	doc["id"] = id.String()
	if isZeroTime(doc["created_date"]) {
		doc["created_date"] = now.Format(time.RFC3339Nano)
	}
	if _, ok := doc["updated_date"]; ok {
		doc["updated_date"] = now.Format(time.RFC3339Nano)
	}

	out, err := fromDocument[T](doc)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; exists {
		return zero, fmt.Errorf("%s %s already exists", c.name, id)
	}
	c.docs[id] = doc
	return out, nil
}

func (c *Collection[T]) Update(_ context.Context, id uuid.UUID, partial map[string]any) (T, error) {
	var zero T
	patch, err := toDocument(partial)
	if err != nil {
		return zero, err
	}
	for field := range patch {
		if field == "id" || !store.ValidField(field) {
			return zero, fmt.Errorf("%s: field %q cannot be updated", c.name, field)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.docs[id]
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", c.name, id, domain.ErrNotFound)
	}

	merged := make(document, len(current)+len(patch)+1)
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	if _, ok := merged["updated_date"]; ok {
		merged["updated_date"] = c.now().UTC().Format(time.RFC3339Nano)
	}

	// Decode before storing so a patch with a wrong type never lands.
	out, err := fromDocument[T](merged)
	if err != nil {
		return zero, fmt.Errorf("%s: apply update: %w", c.name, err)
	}
	c.docs[id] = merged
	return out, nil
}

func (c *Collection[T]) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%s %s: %w", c.name, id, domain.ErrNotFound)
	}
	delete(c.docs, id)
	return nil
}

// mutate applies fn to the stored document under the write lock.
func (c *Collection[T]) mutate(id uuid.UUID, fn func(doc document)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%s %s: %w", c.name, id, domain.ErrNotFound)
	}
	// Readers hold stored maps outside the lock; never write them in place.
	next := maps.Clone(doc)
	fn(next)
	c.docs[id] = next
	return nil
}

func toDocument(v any) (document, error) {
	if v == nil {
		return document{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := document{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument[T any](doc document) (T, error) {
	var out T
	b, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

func matches(doc, want document) bool {
	for k, v := range want {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case string:
		// RFC3339Nano drops trailing zeros, so timestamps only order
		// correctly once parsed.
		if bv, ok := b.(string); ok {
			at, aerr := time.Parse(time.RFC3339Nano, av)
			bt, berr := time.Parse(time.RFC3339Nano, bv)
			if aerr == nil && berr == nil {
				return at.Compare(bt)
			}
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func isZeroTime(v any) bool {
	s, ok := v.(string)
	if !ok || s == "" {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return err != nil || t.IsZero()
}
