package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenSearchSink posts lifecycle events to OpenSearch/Elasticsearch's
// document API, grounded on the teacher's internal/history/opensearch
// sink (plain net/http, no client library needed for a single POST).
type OpenSearchSink struct {
	client  *http.Client
	baseURL string
	index   string
}

func NewOpenSearchSink(baseURL, index string) *OpenSearchSink {
	return &OpenSearchSink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *OpenSearchSink) Send(ctx context.Context, e Event) error {
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *OpenSearchSink) Close() error { return nil }
