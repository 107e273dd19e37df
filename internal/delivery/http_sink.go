package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/chaz8081/ringtap/internal/sample"
	"github.com/chaz8081/ringtap/internal/signing"
)

// Upload request headers.
const (
	HeaderBatchID   = "X-Ringtap-Batch"
	HeaderSignature = "X-Ringtap-Signature"
)

// UploadRequest is the JSON body POSTed for every batch.
type UploadRequest struct {
	DeviceID string          `json:"device_id"`
	BatchID  string          `json:"batch_id"`
	Records  []sample.Record `json:"records"`
}

// HTTPSink uploads batches to a collector endpoint. Any non-2xx response or
// transport error is a failed batch.
type HTTPSink struct {
	url    string
	client *resty.Client
	signer *signing.Signer
}

// NewHTTPSink creates a sink posting to url. When secret is non-empty every
// request carries an HMAC signature header.
func NewHTTPSink(url, secret string, timeout time.Duration) (*HTTPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("delivery: http sink needs a url")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &HTTPSink{
		url: url,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
	if secret != "" {
		signer, err := signing.NewSigner(secret)
		if err != nil {
			return nil, fmt.Errorf("delivery: http sink signer: %w", err)
		}
		s.signer = signer
	}
	return s, nil
}

func (s *HTTPSink) UploadBatch(ctx context.Context, deviceID string, records []sample.Record) error {
	req := UploadRequest{
		DeviceID: deviceID,
		BatchID:  uuid.NewString(),
		Records:  records,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	r := s.client.R().
		SetContext(ctx).
		SetHeader(HeaderBatchID, req.BatchID).
		SetBody(body)
	if s.signer != nil {
		r.SetHeader(HeaderSignature, s.signer.Sign(req.BatchID, body))
	}

	resp, err := r.Post(s.url)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("post batch: HTTP %d", resp.StatusCode())
	}
	return nil
}

var _ Sink = (*HTTPSink)(nil)
