package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetInstanceCounts(t *testing.T) {
	SetInstanceCounts(3, 1, 0, 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(Instances.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Instances.WithLabelValues("stopped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(Instances.WithLabelValues("creating")))
	assert.Equal(t, 2.0, testutil.ToFloat64(Instances.WithLabelValues("error")))

	// Gauges replace rather than accumulate.
	SetInstanceCounts(0, 0, 1, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(Instances.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Instances.WithLabelValues("creating")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(CreatesTotal.WithLabelValues(ResultSuccess))
	CreatesTotal.WithLabelValues(ResultSuccess).Inc()
	CreatesTotal.WithLabelValues(ResultSuccess).Inc()
	assert.Equal(t, before+2, testutil.ToFloat64(CreatesTotal.WithLabelValues(ResultSuccess)))

	RepairActionsTotal.WithLabelValues("restart_containers", ResultFailure).Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(RepairActionsTotal.WithLabelValues("restart_containers", ResultFailure)), 1.0)
}

func TestHandlerServesScrape(t *testing.T) {
	SetInstanceCounts(1, 0, 0, 0)
	BackupsTotal.WithLabelValues("manual").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "herd_instances")
	assert.Contains(t, string(body), "herd_backups_total")
}
