package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/metrics"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

// HTTPClient submits through a messenger unit (MU) and reads results from a
// compute unit (CU).
type HTTPClient struct {
	MU   string
	CU   string
	Http *http.Client

	log     zerolog.Logger
	metrics *metrics.Recorder
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client; timeout applies to each request.
func NewHTTPClient(muURL, cuURL string, timeout time.Duration, log zerolog.Logger, rec *metrics.Recorder) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		MU:      strings.TrimSuffix(muURL, "/"),
		CU:      strings.TrimSuffix(cuURL, "/"),
		Http:    &http.Client{Timeout: timeout},
		log:     log,
		metrics: rec,
	}
}

type postResponse struct {
	ID string `json:"id"`
}

// Submit signs out and posts it to the MU.
func (c *HTTPClient) Submit(ctx context.Context, out Outbound, signer wallet.Signer) (string, error) {
	signed, err := Sign(NewItem(out), signer)
	if err != nil {
		return "", err
	}
	return c.post(ctx, c.MU+"/", signed)
}

// Spawn posts a process-creation item to the MU.
func (c *HTTPClient) Spawn(ctx context.Context, req SpawnRequest, signer wallet.Signer) (string, error) {
	tags := append([]message.Tag{
		{Name: "Type", Value: "Process"},
		{Name: "Module", Value: req.Module},
	}, req.Tags...)
	item := NewItem(Outbound{Tags: tags, Data: req.Data})
	signed, err := Sign(item, signer)
	if err != nil {
		return "", err
	}
	return c.post(ctx, c.MU+"/spawn", signed)
}

func (c *HTTPClient) post(ctx context.Context, u string, signed SignedItem) (string, error) {
	body, err := json.Marshal(signed)
	if err != nil {
		return "", fmt.Errorf("encode item: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("mu status %d", resp.StatusCode)
	}
	var out postResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode mu response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("mu response missing id")
	}
	return out.ID, nil
}

type resultsResponse struct {
	Edges []struct {
		Cursor string `json:"cursor"`
		Node   struct {
			Messages []wireMessage `json:"Messages"`
		} `json:"node"`
	} `json:"edges"`
}

// Read fetches one page of process results, newest first. Malformed
// messages are dropped here and never reach classification.
func (c *HTTPClient) Read(ctx context.Context, process string, page Page) (Batch, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("sort", "DESC")
	q.Set("limit", strconv.Itoa(limit))
	if page.Cursor != "" {
		q.Set("from", page.Cursor)
	}
	u := c.CU + "/results/" + url.PathEscape(process) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Batch{}, err
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return Batch{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("cu status %d for %s", resp.StatusCode, process)
	}
	var out resultsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Batch{}, fmt.Errorf("decode results: %w", err)
	}

	var (
		batch Batch
		seq   int64
	)
	for _, edge := range out.Edges {
		for i, wm := range edge.Node.Messages {
			if msg, ok := accept(c.log, c.metrics, process, edgeMessageID(edge.Cursor, i), seq, wm); ok {
				batch.Messages = append(batch.Messages, msg)
			}
			seq++
		}
	}
	if len(out.Edges) == limit {
		batch.Next = out.Edges[len(out.Edges)-1].Cursor
	}
	return batch, nil
}
