package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error
	got  []Alert
}

func (r *recordingSender) Send(_ context.Context, a Alert) error {
	r.got = append(r.got, a)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventPoolCreated, " "}, nil)

	require.NoError(t, n.Notify(context.Background(), Alert{Event: EventPoolCreated, Title: "created"}))
	require.NoError(t, n.Notify(context.Background(), Alert{Event: EventSyncFailed, Title: "sync"}))
	require.Len(t, s.got, 1)
	assert.Equal(t, "created", s.got[0].Title)
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.Notify(context.Background(), Alert{Event: EventPoolFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.got, 1)
}

func TestDiscordEmbed(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{
		Event:  EventSyncFailed,
		Title:  "Finalize sync failed",
		Fields: []Field{{Name: "Idea", Value: "idea-1"}},
		Link:   "https://solscan.io/tx/abc",
	})
	require.NoError(t, err)
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, colorFailure, payload.Embeds[0].Color)
	assert.Equal(t, "https://solscan.io/tx/abc", payload.Embeds[0].URL)
	assert.Equal(t, "idea-1", payload.Embeds[0].Fields[0].Value)
}

func TestTelegramMessage(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), Alert{
		Event:  EventPoolCreated,
		Title:  "Pool created",
		Fields: []Field{{Name: "DAO", Value: "D1"}},
		Link:   "https://solscan.io/tx/xyz",
	}))
	assert.Equal(t, "42", payload["chat_id"])
	text, _ := payload["text"].(string)
	assert.Contains(t, text, "*Pool created*")
	assert.Contains(t, text, "*DAO:* `D1`")
	assert.Contains(t, text, "(https://solscan.io/tx/xyz)")
}
