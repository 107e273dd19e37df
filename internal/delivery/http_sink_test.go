package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ringtap/internal/sample"
	"github.com/chaz8081/ringtap/internal/signing"
)

func TestHTTPSinkPostsSignedBatch(t *testing.T) {
	var (
		got     UploadRequest
		body    []byte
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, "shared-secret", time.Second)
	require.NoError(t, err)

	records := sample.Records([]sample.Sample{labelled(1), labelled(2)}, nil)
	require.NoError(t, sink.UploadBatch(context.Background(), "ring-1", records))

	assert.Equal(t, "ring-1", got.DeviceID)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "s001", got.Records[0].Label)
	assert.Equal(t, got.BatchID, headers.Get(HeaderBatchID))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	signer, err := signing.NewSigner("shared-secret")
	require.NoError(t, err)
	assert.True(t, signer.Verify(got.BatchID, body, headers.Get(HeaderSignature)))
}

func TestHTTPSinkUnsignedWithoutSecret(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(HeaderSignature)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, "", time.Second)
	require.NoError(t, err)
	require.NoError(t, sink.UploadBatch(context.Background(), "ring-1", nil))
	assert.Empty(t, sig)
}

func TestHTTPSinkNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, "", time.Second)
	require.NoError(t, err)
	err = sink.UploadBatch(context.Background(), "ring-1", sample.Records([]sample.Sample{labelled(1)}, nil))
	assert.ErrorContains(t, err, "HTTP 503")
}

func TestHTTPSinkRequiresURL(t *testing.T) {
	_, err := NewHTTPSink("", "", time.Second)
	assert.Error(t, err)
}

func TestPipelineWithHTTPSinkRequeuesOnOutage(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, "", time.Second)
	require.NoError(t, err)
	p := NewPipeline(sink, Options{BatchSize: 10, Timeout: time.Second})
	defer p.Close()

	for i := 1; i <= 5; i++ {
		p.Enqueue("ring-1", labelled(i))
	}
	var derr *DeliveryError
	require.ErrorAs(t, p.Drain(context.Background()), &derr)
	assert.Equal(t, 5, p.Pending())

	fail.Store(false)
	require.NoError(t, p.Drain(context.Background()))
	assert.Equal(t, 0, p.Pending())
}
