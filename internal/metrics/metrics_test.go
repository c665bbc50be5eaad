// ABOUTME: Tests for the Prometheus collectors
// ABOUTME: Uses testutil against an isolated registry per test

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.InboundEvent(ResultOK)
	m.InboundEvent(ResultOK)
	m.InboundEvent(ResultDuplicate)
	m.SessionCreated()
	m.LedgerAppend("user")
	m.ReplyFallback()
	m.IntegrationAuth("ispcube", ResultOK)
	m.GenerationRequest("gemini", ResultOK, 300*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inboundEvents.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inboundEvents.WithLabelValues(ResultDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerAppends.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replyFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.integrationAuth.WithLabelValues("ispcube", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationRequests.WithLabelValues("gemini", ResultOK)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InboundEvent(ResultOK)
		m.SessionCreated()
		m.LedgerAppend("assistant")
		m.GenerationRequest("openai", ResultError, time.Second)
		m.ReplyFallback()
		m.OutboundSend(ResultFailed)
		m.IntegrationRequest("ispcube", ResultOK)
		m.IntegrationAuth("ispcube", ResultError)
		m.DuplicateDropped()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.DuplicateDropped()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "jarvisp_dedupe_duplicates_total 1")
}
