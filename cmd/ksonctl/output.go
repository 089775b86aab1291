package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/achilleasa/kson/client"
	"github.com/achilleasa/kson/encoding/json"
	"github.com/achilleasa/kson/envelope"
)

// parseArgs turns key=value pairs into action arguments.
func parseArgs(pairs []string) (map[string]interface{}, error) {
	selector, err := parseSelector(pairs)
	if err != nil {
		return nil, err
	}
	params := make(map[string]interface{}, len(selector))
	for key, raw := range selector {
		params[key] = parseValue(raw)
	}
	return params, nil
}

// parseSelector turns key=value pairs into a string map.
func parseSelector(pairs []string) (map[string]string, error) {
	selector := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed argument %q; expected key=value", pair)
		}
		selector[key] = raw
	}
	return selector, nil
}

func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func withAction(rawURL, action string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(envelope.QueryAction, action)
	u.RawQuery = q.Encode()
	return u.String()
}

// printResult renders res as JSON. Futures are awaited and cursors
// drained first; proxies are printed as a description of the remote object.
func printResult(ctx context.Context, out io.Writer, res interface{}) error {
	v, err := render(ctx, res)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func render(ctx context.Context, res interface{}) (interface{}, error) {
	switch v := res.(type) {
	case *client.RemoteFuture:
		resolved, err := v.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return render(ctx, resolved)
	case *client.RemoteCursor:
		items, err := v.All(ctx)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []interface{}{}
		}
		return items, nil
	case *client.RemoteService:
		actions := make(map[string]interface{}, len(v.Actions()))
		for _, name := range v.Actions() {
			spec, _ := v.ActionSpec(name)
			actions[name] = spec
		}
		return map[string]interface{}{
			"url":     v.URL(),
			"links":   v.Links(),
			"actions": actions,
		}, nil
	case *client.RemoteCollection:
		return map[string]interface{}{
			"url":    v.URL(),
			"fields": v.Fields(),
			"keys":   v.Keys(),
			"key":    v.Key(),
		}, nil
	case envelope.Variant:
		data, err := envelope.Default.Encode(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
	return res, nil
}
