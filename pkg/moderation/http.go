// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrScore is wrapped into every scoring failure so the send pipeline can
// recognize the kind and apply its fail-open policy.
var ErrScore = errors.New("image scoring failed")

const defaultHTTPTimeout = 30 * time.Second

// HTTPScorer scores images through a SafeSearch-style REST endpoint: a JSON
// annotate request carrying the base64 image content, answered with one
// likelihood per safety category.
type HTTPScorer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPScorer builds a scorer for the given annotate endpoint. The API key
// is passed as the key query parameter.
func NewHTTPScorer(endpoint, apiKey string, log zerolog.Logger) *HTTPScorer {
	return &HTTPScorer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		log:      log.With().Str("component", "moderation").Logger(),
	}
}

type annotateRequest struct {
	Requests []annotateEntry `json:"requests"`
}

type annotateEntry struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		SafeSearch *safeSearchAnnotation `json:"safeSearchAnnotation"`
		Error      *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

type safeSearchAnnotation struct {
	Adult    Likelihood `json:"adult"`
	Spoof    Likelihood `json:"spoof"`
	Medical  Likelihood `json:"medical"`
	Violence Likelihood `json:"violence"`
	Racy     Likelihood `json:"racy"`
}

// ScoreImage submits the encoded image content for safe-search annotation
// and returns the per-category likelihood map.
func (s *HTTPScorer) ScoreImage(ctx context.Context, encodedContent string) (map[Category]Likelihood, error) {
	body, err := json.Marshal(annotateRequest{
		Requests: []annotateEntry{{
			Image:    annotateImage{Content: encodedContent},
			Features: []annotateFeature{{Type: "SAFE_SEARCH_DETECTION"}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrScore, err)
	}

	url := s.endpoint
	if s.apiKey != "" {
		url += "?key=" + s.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScore, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScore, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrScore, resp.StatusCode, snippet)
	}

	var decoded annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrScore, err)
	}
	if len(decoded.Responses) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrScore)
	}
	entry := decoded.Responses[0]
	if entry.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrScore, entry.Error.Message)
	}
	if entry.SafeSearch == nil {
		return nil, fmt.Errorf("%w: response has no safe-search annotation", ErrScore)
	}

	scores := map[Category]Likelihood{
		CategoryAdult:    entry.SafeSearch.Adult,
		CategorySpoof:    entry.SafeSearch.Spoof,
		CategoryMedical:  entry.SafeSearch.Medical,
		CategoryViolence: entry.SafeSearch.Violence,
		CategoryRacy:     entry.SafeSearch.Racy,
	}
	s.log.Debug().Dur("elapsed", time.Since(start)).
		Bool("flagged", Flagged(scores)).
		Msg("Image scored")
	return scores, nil
}
