package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPScorer_ScoreImage(t *testing.T) {
	t.Run("decodes the annotation", func(t *testing.T) {
		var gotBody annotateRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "test-key", r.URL.Query().Get("key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_, _ = w.Write([]byte(`{"responses":[{"safeSearchAnnotation":{
				"adult":"VERY_UNLIKELY","spoof":"UNLIKELY","medical":"UNKNOWN",
				"violence":"LIKELY","racy":"POSSIBLE"}}]}`))
		}))
		defer server.Close()

		scorer := NewHTTPScorer(server.URL, "test-key", zerolog.Nop())
		scores, err := scorer.ScoreImage(context.Background(), "aGVsbG8=")
		require.NoError(t, err)

		require.Len(t, gotBody.Requests, 1)
		assert.Equal(t, "aGVsbG8=", gotBody.Requests[0].Image.Content)
		require.Len(t, gotBody.Requests[0].Features, 1)
		assert.Equal(t, "SAFE_SEARCH_DETECTION", gotBody.Requests[0].Features[0].Type)

		assert.Equal(t, map[Category]Likelihood{
			CategoryAdult:    VeryUnlikely,
			CategorySpoof:    Unlikely,
			CategoryMedical:  Unknown,
			CategoryViolence: Likely,
			CategoryRacy:     Possible,
		}, scores)
		assert.True(t, Flagged(scores))
	})

	t.Run("non-200 status fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		scorer := NewHTTPScorer(server.URL, "", zerolog.Nop())
		_, err := scorer.ScoreImage(context.Background(), "aGVsbG8=")
		assert.ErrorIs(t, err, ErrScore)
	})

	t.Run("service error entry fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses":[{"error":{"message":"invalid image"}}]}`))
		}))
		defer server.Close()

		scorer := NewHTTPScorer(server.URL, "", zerolog.Nop())
		_, err := scorer.ScoreImage(context.Background(), "bm90IGFuIGltYWdl")
		require.ErrorIs(t, err, ErrScore)
		assert.Contains(t, err.Error(), "invalid image")
	})

	t.Run("unreachable endpoint fails", func(t *testing.T) {
		scorer := NewHTTPScorer("http://127.0.0.1:1/annotate", "", zerolog.Nop())
		_, err := scorer.ScoreImage(context.Background(), "aGVsbG8=")
		assert.ErrorIs(t, err, ErrScore)
	})
}
