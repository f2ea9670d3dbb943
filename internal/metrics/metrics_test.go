package metrics

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObservePublish("delivered", nil)
	m.ObservePublish("resolve", errors.New("nxdomain"))
	m.ObservePublish("resolve", errors.New("nxdomain"))
	m.ObserveRead("soil", nil)
	m.ObserveTransition("DISCONNECTED", "STARTING", "tick")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("delivered", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishes.WithLabelValues("resolve", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("soil", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.transitions))
}

func TestSummary(t *testing.T) {
	m := New()
	m.ObservePublish("connect", errors.New("refused"))
	m.ObserveTaskExit("sampler")

	summary, err := m.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1.0, summary["publish_attempts_total{result=error,stage=connect}"])
	assert.Equal(t, 1.0, summary["task_exits_total{task=sampler}"])
	assert.Len(t, summary, 2)

	var buf bytes.Buffer
	m.LogSummary(zerolog.New(&buf))
	assert.Contains(t, buf.String(), "Boot summary")
	assert.Contains(t, buf.String(), "task_exits_total{task=sampler}")
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRead("humidity", errors.New("nack"))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `agsys_node_sensor_reads_total{channel="humidity",result="error"} 1`))
}
