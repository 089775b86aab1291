package transport

import "testing"

func TestHandlerFunc(t *testing.T) {
	called := false
	f := HandlerFunc(func(_ ImmutableMessage, _ Message) {
		called = true
	})

	f.Process(nil, nil)

	if !called {
		t.Fatalf("expected wrapped HandlerFunc to call f(req, res)")
	}
}

func TestModeString(t *testing.T) {
	if ModeServer.String() != "server" || ModeClient.String() != "client" {
		t.Fatalf("unexpected mode names: %s, %s", ModeServer, ModeClient)
	}
}
