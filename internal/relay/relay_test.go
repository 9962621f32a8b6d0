package relay_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/domain"
	"offrecord/internal/relay"
)

func newRelay(t *testing.T) (*relay.Server, *relay.Client) {
	t.Helper()
	srv := relay.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, relay.NewClient(ts.URL+"/", ts.Client())
}

func TestRelay_SendFetchAck(t *testing.T) {
	srv, c := newRelay(t)
	ctx := context.Background()

	for _, body := range []string{"?OTRv3?", "?OTR:AAMC", "hello"} {
		require.NoError(t, c.Send(ctx, domain.Envelope{From: "alice", To: "bob", Protocol: "relay", Body: body}))
	}
	assert.Equal(t, 3, srv.Pending("bob"))

	got, err := c.Fetch(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "?OTRv3?", got[0].Body)
	assert.Equal(t, "alice", got[0].From)
	assert.False(t, got[0].Sent.IsZero(), "relay stamps the send time")

	// Fetching does not consume.
	got, err = c.Fetch(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.NoError(t, c.Ack(ctx, "bob", 2))
	got, err = c.Fetch(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Body)

	require.NoError(t, c.Ack(ctx, "bob", 10))
	assert.Zero(t, srv.Pending("bob"))
}

func TestRelay_EmptyQueue(t *testing.T) {
	_, c := newRelay(t)
	got, err := c.Fetch(context.Background(), "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRelay_RecipientMismatch(t *testing.T) {
	_, c := newRelay(t)

	// The client builds the path from To, so forge a request directly.
	req, err := http.NewRequest(http.MethodPost, c.Base+"/msg/bob", strings.NewReader(`{"to":"carol","body":"x"}`))
	require.NoError(t, err)
	resp, err := c.HTTP.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelay_ErrorsCarryStatus(t *testing.T) {
	_, c := newRelay(t)
	resp, err := c.HTTP.Get(c.Base + "/msg/bob?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	err = relay.NewClient(c.Base+"/nope", c.HTTP).Send(context.Background(), domain.Envelope{To: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestRelay_ContextCancelled(t *testing.T) {
	_, c := newRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Send(ctx, domain.Envelope{To: "bob"}), context.Canceled)
}
