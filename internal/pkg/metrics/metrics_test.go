package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUpload(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.RecordUpload("success", 12, 2048)
	m.RecordUpload("success", 3, 512)
	m.RecordUpload("invalid", 0, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.uploadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.uploadsTotal.WithLabelValues("invalid")))
}

func TestRetentionCounters(t *testing.T) {
	m := NewNop()

	m.RecordEviction()
	m.RecordEviction()
	m.RecordBlobDeleteFailure()
	m.RecordRetentionRun("success")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.evictionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.blobDeleteFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.retentionRunsTotal.WithLabelValues("success")))
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewNop()

	m.RecordHTTPRequest("GET", "/api/datasets/:id", 404, 5*time.Millisecond)
	m.RecordHTTPRequest("GET", "", 404, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/datasets/:id", "404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err)
}
