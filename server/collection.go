package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/outcome"
)

// ActionCreate is the built-in Collection action that adds an item.
const ActionCreate = envelope.ActionCreate

var defaultPageSize = config.Int64Flag("server/collection/pagesize", 50)

// Query selects a page of collection items.
type Query struct {
	// Selector holds equality filters on the collection keys.
	Selector map[string]string

	// Token is the continuation token of the requested page. An empty token
	// selects the first page.
	Token string

	// Limit is the maximum number of items to return.
	Limit int
}

// Page is a slice of collection items. An empty Next marks the last page.
type Page struct {
	Items []interface{}
	Next  string
}

// CollectionStore provides the items of a Collection. Implementations must
// be safe for concurrent use and should return ErrInvalidCursor for tokens
// they did not issue.
type CollectionStore interface {
	List(ctx context.Context, q Query) (Page, error)
	Create(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Collection is a Target exposing a paged set of items.
//
// A GET of the mount path with a cursor query parameter returns a Cursor
// envelope. Query parameters named after one of the collection Keys filter
// the listed items. The "create" action adds an item; its arguments must be
// declared in Fields unless Fields is empty.
type Collection struct {
	Fields   map[string]interface{}
	Keys     []string
	Key      string
	Store    CollectionStore
	PageSize int

	// Optional extra actions.
	Actions map[string]Action
}

// Describe implements Target.
func (c *Collection) Describe(self string) envelope.Variant {
	return envelope.NewCollection(self, c.Fields, c.Keys, c.Key)
}

// Invoke implements Target.
func (c *Collection) Invoke(ctx context.Context, action string, args map[string]interface{}) outcome.Result {
	if action != ActionCreate {
		return invokeAction(ctx, c.Actions, action, args)
	}

	if len(c.Fields) != 0 {
		for name := range args {
			if _, declared := c.Fields[name]; !declared {
				return outcome.Failed(fmt.Errorf("%w: %q", ErrUnknownField, name))
			}
		}
	}
	return outcome.From(c.Store.Create(ctx, args))
}

// Page returns the Cursor for the page selected by query.
func (c *Collection) Page(ctx context.Context, self string, query url.Values) (envelope.Variant, error) {
	selector := make(map[string]string)
	for _, key := range c.Keys {
		if key != QueryCursor && query.Has(key) {
			selector[key] = query.Get(key)
		}
	}

	limit := c.PageSize
	if limit <= 0 {
		limit = int(defaultPageSize.Get())
	}

	token := query.Get(QueryCursor)
	page, err := c.Store.List(ctx, Query{Selector: selector, Token: token, Limit: limit})
	if errors.Is(err, ErrInvalidCursor) {
		return envelope.NewErrorResponse(err.Error()), nil
	} else if err != nil {
		return nil, err
	}

	var next string
	if page.Next != "" {
		next = cursorURL(self, page.Next, selector)
	}

	selectorMeta := make(map[string]interface{}, len(selector))
	for k, v := range selector {
		selectorMeta[k] = v
	}
	return envelope.NewCursor(cursorURL(self, token, selector), self, selectorMeta, next, page.Items), nil
}

// cursorURL builds the url of a collection page.
func cursorURL(self, token string, selector map[string]string) string {
	values := url.Values{}
	values.Set(QueryCursor, token)
	for k, v := range selector {
		values.Set(k, v)
	}
	return self + "?" + values.Encode()
}

// MemoryCollectionStore is a CollectionStore backed by a slice. Items are
// listed in insertion order and continuation tokens are item offsets.
type MemoryCollectionStore struct {
	mutex  sync.RWMutex
	key    string
	items  []map[string]interface{}
	keys   map[string]struct{}
	nextID int
}

// NewMemoryCollectionStore creates an empty store whose items are
// identified by the key field. Items created without a key are assigned a
// sequential numeric id.
func NewMemoryCollectionStore(key string) *MemoryCollectionStore {
	return &MemoryCollectionStore{
		key:  key,
		keys: make(map[string]struct{}),
	}
}

// Create implements CollectionStore.
func (s *MemoryCollectionStore) Create(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	item := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		item[k] = v
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.key != "" {
		if _, hasKey := item[s.key]; !hasKey {
			// Skip ids already taken by explicitly keyed items
			for {
				s.nextID++
				if _, taken := s.keys[strconv.Itoa(s.nextID)]; !taken {
					break
				}
			}
			item[s.key] = strconv.Itoa(s.nextID)
		}

		keyVal := fmt.Sprint(item[s.key])
		if _, exists := s.keys[keyVal]; exists {
			return nil, fmt.Errorf("%w: %s=%s", ErrDuplicateKey, s.key, keyVal)
		}
		s.keys[keyVal] = struct{}{}
	}

	s.items = append(s.items, item)
	return copyItem(item), nil
}

// List implements CollectionStore.
func (s *MemoryCollectionStore) List(_ context.Context, q Query) (Page, error) {
	offset := 0
	if q.Token != "" {
		var err error
		if offset, err = strconv.Atoi(q.Token); err != nil || offset < 0 {
			return Page{}, fmt.Errorf("%w: %q", ErrInvalidCursor, q.Token)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	matches := make([]interface{}, 0, len(s.items))
	for _, item := range s.items {
		if matchesSelector(item, q.Selector) {
			matches = append(matches, copyItem(item))
		}
	}

	if offset > len(matches) {
		offset = len(matches)
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}

	page := Page{Items: matches[offset:end]}
	if end < len(matches) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

// Len returns the number of stored items.
func (s *MemoryCollectionStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.items)
}

func matchesSelector(item map[string]interface{}, selector map[string]string) bool {
	for k, v := range selector {
		itemVal, exists := item[k]
		if !exists || fmt.Sprint(itemVal) != v {
			return false
		}
	}
	return true
}

func copyItem(item map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
