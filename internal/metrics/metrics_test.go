package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveResult(t *testing.T) {
	before := testutil.ToFloat64(StoreSaves.WithLabelValues("json", "error"))
	SaveResult("json", errors.New("disk full"))
	assert.Equal(t, before+1, testutil.ToFloat64(StoreSaves.WithLabelValues("json", "error")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	PollTicks.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "tokikanri_poll_ticks_total"))
}
