package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordIntent(t *testing.T) {
	before := testutil.ToFloat64(intentsTotal.WithLabelValues("MOOD_LOG"))
	RecordIntent("MOOD_LOG")
	require.Equal(t, before+1, testutil.ToFloat64(intentsTotal.WithLabelValues("MOOD_LOG")))
}

func TestRecordClassifierFailure(t *testing.T) {
	before := testutil.ToFloat64(classifierFailuresTotal.WithLabelValues("level1"))
	RecordClassifierFailure("level1")
	RecordClassifierFailure("level1")
	require.Equal(t, before+2, testutil.ToFloat64(classifierFailuresTotal.WithLabelValues("level1")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordWidget("breathing")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mindspace_widgets_total")
}
