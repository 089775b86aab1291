package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/kson/outcome"
	"github.com/achilleasa/kson/server"
)

// reportDuration is how long a report takes to build.
var reportDuration = 2 * time.Second

func mountAPI(srv *server.Server) error {
	if err := srv.Mount("/greeter", greeterService(newReports())); err != nil {
		return err
	}
	return srv.Mount("/books", booksCollection())
}

func greeterService(r *reports) *server.Service {
	return &server.Service{
		Links: map[string]string{"books": "/books"},
		Actions: map[string]server.Action{
			"greet": {
				Args: map[string]interface{}{"name": "string"},
				Handler: func(_ context.Context, args map[string]interface{}) outcome.Result {
					name, _ := args["name"].(string)
					if name == "" {
						return outcome.Failed(errors.New("name is required"))
					}
					return outcome.Ready("hello " + name)
				},
			},
			"report": {
				Args:    map[string]interface{}{"topic": "string"},
				Handler: r.build,
			},
		},
	}
}

func booksCollection() *server.Collection {
	return &server.Collection{
		Fields: map[string]interface{}{
			"id":     "string",
			"title":  "string",
			"author": "string",
			"genre":  "string",
		},
		Keys:  []string{"id", "author", "genre"},
		Key:   "id",
		Store: server.NewMemoryCollectionStore("id"),
	}
}

// reports tracks report builds by topic. Polling a future re-runs the
// action with the original arguments, so the topic identifies the build.
type reports struct {
	mutex   sync.Mutex
	started map[string]time.Time
}

func newReports() *reports {
	return &reports{started: make(map[string]time.Time)}
}

func (r *reports) build(_ context.Context, args map[string]interface{}) outcome.Result {
	topic, _ := args["topic"].(string)
	if topic == "" {
		return outcome.Failed(errors.New("topic is required"))
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	startedAt, building := r.started[topic]
	if !building {
		r.started[topic] = time.Now()
		return outcome.Deferred(reportDuration)
	}
	if remaining := reportDuration - time.Since(startedAt); remaining > 0 {
		return outcome.Deferred(remaining)
	}

	delete(r.started, topic)
	return outcome.Ready(map[string]interface{}{
		"topic":   topic,
		"summary": fmt.Sprintf("report on %s", topic),
	})
}
