// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package searchindex posts log records to the search index collaborator
// (spec §6.5): index "log_messages", one record per POST, failures logged
// and never back-pressuring the log pipeline.
//
// No client library in the retrieved example pack is grounded in direct
// usage of a search engine client (a bleve dependency exists in one example
// repo's go.mod but is never imported from its source - see DESIGN.md), so
// this posts plain JSON over net/http against a configurable endpoint
// rather than adopting an unused dependency.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/logrecord"
)

// Client posts serialized log records to a search index endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a Client that POSTs to endpoint (e.g.
// "http://localhost:9200/log_messages/_doc").
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Post sends rec as a JSON document (spec §6.5: "records are individually
// POSTed").
func (c *Client) Post(rec logrecord.Serialized) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "marshaling log record for search index")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "building search index request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "posting log record to search index")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf(errors.KindUnavailable, "search index returned status %s", resp.Status)
	}
	return nil
}
