package ideastore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/ideapool/internal/crypto"
	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/api"
	c := New(cfg, nil)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestGetIdeaImplicitSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/idea-1", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":{"id":"idea-1","title":"Solar","votes":"3","poolStatus":""}}`)
	}, Config{APIKey: "k"})

	res := c.GetIdea(context.Background(), "idea-1")
	require.True(t, res.IsOk(), res.Message())
	idea, err := res.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 3, idea.Votes)
	assert.Equal(t, domain.PoolStatusNone, idea.PoolStatus)
}

func TestExplicitFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"pool already exists"}`)
	}, Config{})

	res := c.CreateIdeaPool(context.Background(), "idea-1", domain.PoolMapping{})
	assert.False(t, res.IsOk())
	assert.Equal(t, "pool already exists", res.Message())
	_, err := res.Unwrap()
	assert.ErrorIs(t, err, domain.ErrStoreRejected)
}

func TestCreateIdeaPoolSendsMapping(t *testing.T) {
	var got domain.PoolMapping
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/projects/idea-9/create-pool", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true,"data":{"project":{"id":"idea-9","poolStatus":"active"}}}`)
	}, Config{})

	mapping := domain.PoolMapping{DAOAddress: "dao", ProposalPubkey: "prop", Sponsor: true}
	idea, err := c.CreateIdeaPool(context.Background(), "idea-9", mapping).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusActive, idea.PoolStatus)
	assert.Equal(t, "dao", got.DAOAddress)
	assert.True(t, got.Sponsor)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"passPoolBalance":"30","failPoolBalance":10,"poolStatus":"active"}}`)
	}, Config{MaxRetries: 2})

	stats, err := c.GetIdeaMarketStats(context.Background(), "idea-1").Unwrap()
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, stats.PassProbability)
	assert.InDelta(t, 0.75, *stats.PassProbability, 1e-9)
	assert.InDelta(t, 0.25, *stats.FailProbability, 1e-9)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"admin only"}`)
	}, Config{MaxRetries: 3})

	res := c.FinalizeIdea(context.Background(), "idea-1", domain.FinalizeRecord{Decision: domain.DecisionPass})
	assert.False(t, res.IsOk())
	assert.Contains(t, res.Message(), "admin only")
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusKindsSurvive(t *testing.T) {
	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrAlreadyExists},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"success":false,"message":"Project not found"}`)
			}, Config{})

			_, err := c.GetIdea(context.Background(), "missing").Unwrap()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.ErrorIs(t, err, domain.ErrStoreRejected)
			assert.Contains(t, err.Error(), "Project not found")
		})
	}
}

func TestEmptyPoolsHaveNoProbabilities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"passPoolBalance":0,"failPoolBalance":null}}`)
	}, Config{})

	stats, err := c.GetIdeaMarketStats(context.Background(), "idea-1").Unwrap()
	require.NoError(t, err)
	assert.Nil(t, stats.PassProbability)
	assert.Nil(t, stats.FailProbability)
}

func TestSignsRequests(t *testing.T) {
	signer := &crypto.RequestSigner{Key: "orch", Secret: "s"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ok := signer.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
		assert.True(t, ok)
		_, _ = io.WriteString(w, `{"data":{"id":"idea-1"}}`)
	}, Config{Signer: signer})

	assert.True(t, c.FinalizeIdea(context.Background(), "idea-1", domain.FinalizeRecord{Decision: domain.DecisionReject}).IsOk())
}
