package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"recalld/internal/domain"
)

// maxResponseBytes bounds embedding API responses. A 10MB reply already
// holds thousands of vectors.
const maxResponseBytes = 10 * 1024 * 1024

// postJSON sends a JSON POST and decodes the JSON response into out.
// Every failure wraps domain.ErrEmbeddingFailed so callers see provider
// trouble uniformly regardless of backend.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", domain.ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrEmbeddingFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: API error %d: %s", domain.ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	return nil
}

// checkBatch verifies the provider answered one vector per input, each
// with the configured width (dims <= 0 skips the width check). Index
// embeddings are fixed-width blobs, so a width drift has to fail here
// instead of silently corrupting similarity search.
func checkBatch(vectors [][]float32, inputs, dims int) error {
	if len(vectors) != inputs {
		return fmt.Errorf("%w: got %d vectors for %d inputs", domain.ErrEmbeddingFailed, len(vectors), inputs)
	}
	if dims <= 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector width %d, configured %d", domain.ErrEmbeddingFailed, len(v), dims)
		}
	}
	return nil
}
