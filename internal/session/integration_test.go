package session_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/fireshield/fsclient/internal/apiclient"
	"github.com/fireshield/fsclient/internal/credential"
	"github.com/fireshield/fsclient/internal/demoserver"
	"github.com/fireshield/fsclient/internal/session"
	"github.com/fireshield/fsclient/internal/testutil"
)

func TestSessionAgainstDemoServer(t *testing.T) {
	demo, err := demoserver.New(demoserver.Options{
		Email:      "demo@example.com",
		Password:   "demo",
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("demo server: %v", err)
	}
	srv := httptest.NewServer(demo.Router())
	defer srv.Close()

	store, ctx := testutil.NewStore(t)
	creds := credential.NewGuarded(credential.NewSQLite(store), nil)
	client, err := apiclient.New(srv.URL+"/", creds, apiclient.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	mock := clock.NewMock()
	ctl := session.New(client, session.WithClock(mock), session.WithCache(store))
	defer ctl.Close() //nolint:errcheck

	ctl.Init(ctx)
	if snap := ctl.Snapshot(); snap.State != session.StateUnauthenticated {
		t.Fatalf("expected unauthenticated start, got %s", snap.State)
	}

	if err := ctl.Login(ctx, "demo@example.com", "demo"); err != nil {
		t.Fatalf("login: %v", err)
	}
	snap := ctl.Snapshot()
	if !snap.IsAuthenticated || snap.Report == nil || len(snap.Series) != 24 {
		t.Fatalf("expected populated dashboard after login, got %+v", snap)
	}
	if snap.LastError != "" {
		t.Fatalf("unexpected error after login: %q", snap.LastError)
	}

	token, ok, _ := creds.Get(ctx)
	if !ok {
		t.Fatalf("expected persisted credential")
	}

	// A fresh process warms from the durable credential and cache.
	restarted := session.New(client, session.WithClock(clock.NewMock()), session.WithCache(store))
	defer restarted.Close() //nolint:errcheck
	restarted.Init(ctx)
	if warm := restarted.Snapshot(); !warm.IsAuthenticated || !warm.Stale || warm.Report == nil {
		t.Fatalf("expected stale warm start, got %+v", warm)
	}

	demo.Revoke(token)
	mock.Add(session.DefaultPollInterval)
	deadline := time.Now().Add(2 * time.Second)
	for ctl.Snapshot().IsAuthenticated || client.HasCredential(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatalf("expected revoked token to sign the session out and clear the credential")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
