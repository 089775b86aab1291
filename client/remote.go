package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/transport"
)

// RemoteError is returned when the server answers with an error-state
// Response.
type RemoteError struct {
	URL     string
	Message string

	// Code is the machine-readable error code sent by the server, if any.
	Code string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error from %s: %s", e.URL, e.Message)
}

// ActionNotFound reports whether the server could not find the invoked
// action.
func (e *RemoteError) ActionNotFound() bool {
	return e.Code == envelope.CodeActionNotFound
}

// RemoteService is a proxy for a server-side Service.
type RemoteService struct {
	client  *Client
	url     string
	links   map[string]string
	actions map[string]map[string]interface{}
}

// URL returns the location of the service.
func (s *RemoteService) URL() string { return s.url }

// Links returns the advertised relations.
func (s *RemoteService) Links() map[string]string { return s.links }

// Actions returns the sorted names of the advertised actions.
func (s *RemoteService) Actions() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActionSpec returns the argument specification of an action.
func (s *RemoteService) ActionSpec(action string) (map[string]interface{}, bool) {
	spec, exists := s.actions[action]
	return spec, exists
}

// Invoke runs an action and resolves its result. Actions are invoked even
// if the service does not advertise them; the server decides whether they
// exist.
func (s *RemoteService) Invoke(ctx context.Context, action string, args map[string]interface{}) (interface{}, error) {
	target, err := withQuery(s.url, url.Values{envelope.QueryAction: {action}})
	if err != nil {
		return nil, err
	}
	return s.client.ResolveRequest(ctx, target, envelope.NewRequest(args))
}

// Follow resolves the named link.
func (s *RemoteService) Follow(ctx context.Context, link string) (interface{}, error) {
	ref, exists := s.links[link]
	if !exists {
		return nil, fmt.Errorf("service %s has no link %q", s.url, link)
	}
	return s.client.Resolve(ctx, resolveRef(s.url, ref))
}

// RemoteCollection is a proxy for a server-side Collection.
type RemoteCollection struct {
	client *Client
	url    string
	fields map[string]interface{}
	keys   []string
	key    string
}

// URL returns the location of the collection.
func (rc *RemoteCollection) URL() string { return rc.url }

// Fields returns the create-argument specification.
func (rc *RemoteCollection) Fields() map[string]interface{} { return rc.fields }

// Keys returns the names of the fields that can be used in List selectors.
func (rc *RemoteCollection) Keys() []string { return rc.keys }

// Key returns the primary key field name.
func (rc *RemoteCollection) Key() string { return rc.key }

// List fetches the first page of the items matching selector.
func (rc *RemoteCollection) List(ctx context.Context, selector map[string]string) (*RemoteCursor, error) {
	params := url.Values{envelope.QueryCursor: {""}}
	for k, v := range selector {
		params.Set(k, v)
	}
	target, err := withQuery(rc.url, params)
	if err != nil {
		return nil, err
	}

	res, err := rc.client.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	cursor, isCursor := res.(*RemoteCursor)
	if !isCursor {
		return nil, unexpectedVariant("list", target, res)
	}
	return cursor, nil
}

// Create adds an item and returns the stored item as resolved from the
// server response.
func (rc *RemoteCollection) Create(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	target, err := withQuery(rc.url, url.Values{envelope.QueryAction: {envelope.ActionCreate}})
	if err != nil {
		return nil, err
	}
	return rc.client.ResolveRequest(ctx, target, envelope.NewRequest(args))
}

// RemoteCursor iterates the items of a collection page by page. The
// sequence is finite and cannot be restarted; a RemoteCursor must not be
// used concurrently.
type RemoteCursor struct {
	client     *Client
	url        string
	collection string
	selector   map[string]interface{}
	items      []interface{}
	next       string
}

func newRemoteCursor(c *Client, rawURL string, env *envelope.Cursor) *RemoteCursor {
	self := resolveRef(rawURL, env.URL())
	rc := &RemoteCursor{
		client:     c,
		url:        self,
		collection: resolveRef(self, env.Collection()),
		selector:   env.Selector(),
		items:      env.Items(),
	}
	if next, hasNext := env.Next(); hasNext {
		rc.next = resolveRef(self, next)
	}
	return rc
}

// URL returns the location of the current page.
func (rc *RemoteCursor) URL() string { return rc.url }

// Collection returns the location of the owning collection.
func (rc *RemoteCursor) Collection() string { return rc.collection }

// Selector returns the query state that produced the cursor.
func (rc *RemoteCursor) Selector() map[string]interface{} { return rc.selector }

// Next returns the next item. Once the last page is drained it returns
// false and keeps doing so on subsequent calls. Pages are fetched lazily.
func (rc *RemoteCursor) Next(ctx context.Context) (interface{}, bool, error) {
	for len(rc.items) == 0 {
		if rc.next == "" {
			return nil, false, nil
		}

		v, err := rc.client.fetchEnvelope(ctx, Fetch{Method: transport.MethodGet, URL: rc.next})
		if err != nil {
			return nil, false, err
		}
		res, err := rc.client.ResolveEnvelope(rc.next, v)
		if err != nil {
			return nil, false, err
		}
		page, isCursor := res.(*RemoteCursor)
		if !isCursor {
			return nil, false, unexpectedVariant("next", rc.next, res)
		}
		*rc = *page
	}

	item := rc.items[0]
	rc.items = rc.items[1:]
	return item, true, nil
}

// All drains the cursor and returns the remaining items.
func (rc *RemoteCursor) All(ctx context.Context) ([]interface{}, error) {
	var out []interface{}
	for {
		item, ok, err := rc.Next(ctx)
		if err != nil {
			return out, err
		} else if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// RemoteFuture is a placeholder for a result the server has not computed
// yet.
type RemoteFuture struct {
	client *Client
	url    string
	wait   time.Duration
}

// URL returns the polling location.
func (f *RemoteFuture) URL() string { return f.url }

// WaitHint returns the backoff suggested by the server.
func (f *RemoteFuture) WaitHint() time.Duration { return f.wait }

// Wait polls the future until it resolves to anything other than another
// Future and returns the resolved value. Between polls it sleeps for at
// least the server-suggested backoff. If ctx expires before or during a
// sleep or a poll, Wait fails with an error wrapping both ErrWaitTimeout
// and the context error.
func (f *RemoteFuture) Wait(ctx context.Context) (interface{}, error) {
	logger := f.client.logger.With(logging.LogFields{"future": f.url})
	pollURL, wait := f.url, f.wait

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, waitTimeout(err)
		}

		timer := time.NewTimer(f.client.pollInterval(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, waitTimeout(ctx.Err())
		case <-timer.C:
		}

		logger.Debug("polling future", logging.LogFields{"attempt": attempt})
		v, err := f.client.fetchEnvelope(ctx, Fetch{Method: transport.MethodGet, URL: pollURL})
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitTimeout(ctx.Err())
			}
			return nil, err
		}

		if next, isFuture := v.(*envelope.Future); isFuture {
			pollURL, wait = resolveRef(pollURL, next.URL()), next.Wait()
			continue
		}
		return f.client.ResolveEnvelope(pollURL, v)
	}
}

func waitTimeout(ctxErr error) error {
	if ctxErr == nil {
		ctxErr = context.DeadlineExceeded
	}
	return fmt.Errorf("%w: %w", ErrWaitTimeout, ctxErr)
}

// IsWaitTimeout reports whether err was caused by a Future wait exceeding
// its deadline.
func IsWaitTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}
