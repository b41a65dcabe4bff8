package form

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pbaille/scopes/internal/domain"
)

// HTTPSubmitter posts the form to the scope service
type HTTPSubmitter struct {
	BaseURL string
	Client  *http.Client
}

// SubmitExam posts payload to /exams/custom/ as a form
func (h *HTTPSubmitter) SubmitExam(ctx context.Context, payload url.Values) (*domain.Exam, error) {
	hc := h.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	endpoint := strings.TrimRight(h.BaseURL, "/") + "/exams/custom/"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var exam domain.Exam
	if err := json.Unmarshal(body, &exam); err != nil {
		return nil, fmt.Errorf("decode exam: %w", err)
	}
	return &exam, nil
}
