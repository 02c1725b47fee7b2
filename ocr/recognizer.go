package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Recognition is the text read from one cell image.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer reads the text of a single PNG-encoded cell image.
// Implementations need not be safe for concurrent use; Engine serializes
// every call.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (Recognition, error)
}

// HTTPRecognizer calls an OCR model server. The request body is
// {"image": "<base64 png>"} and the reply {"text": "...", "confidence": 0.97}.
type HTTPRecognizer struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPRecognizer targets url. A nil logger uses slog.Default().
func NewHTTPRecognizer(url string, timeout time.Duration, logger *slog.Logger) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRecognizer{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

type recognizeRequest struct {
	Image string `json:"image"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, png []byte) (Recognition, error) {
	body, err := json.Marshal(recognizeRequest{Image: base64.StdEncoding.EncodeToString(png)})
	if err != nil {
		return Recognition{}, fmt.Errorf("ocr: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Recognition{}, fmt.Errorf("ocr: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return Recognition{}, fmt.Errorf("ocr: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Recognition{}, fmt.Errorf("ocr: server returned status %d: %s", resp.StatusCode, msg)
	}
	var rec Recognition
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Recognition{}, fmt.Errorf("ocr: decode response: %w", err)
	}
	r.logger.Debug("ocr: cell recognized", "duration", time.Since(start), "confidence", rec.Confidence)
	return rec, nil
}
