package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := getMetrics()

	t.Run("model attempts", func(t *testing.T) {
		before := testutil.ToFloat64(m.modelAttemptsTotal.WithLabelValues("openai", "rate_limit"))
		RecordModelAttempt("openai", "rate_limit", 200*time.Millisecond)
		assert.Equal(t, before+1, testutil.ToFloat64(m.modelAttemptsTotal.WithLabelValues("openai", "rate_limit")))
	})

	t.Run("tokens skip zero counts", func(t *testing.T) {
		prompt := testutil.ToFloat64(m.modelTokensTotal.WithLabelValues("prompt"))
		completion := testutil.ToFloat64(m.modelTokensTotal.WithLabelValues("completion"))
		RecordModelTokens(12, 0)
		assert.Equal(t, prompt+12, testutil.ToFloat64(m.modelTokensTotal.WithLabelValues("prompt")))
		assert.Equal(t, completion, testutil.ToFloat64(m.modelTokensTotal.WithLabelValues("completion")))
	})

	t.Run("runs by status", func(t *testing.T) {
		before := testutil.ToFloat64(m.runTotal.WithLabelValues("react", "failure"))
		RecordRun("react", time.Second, false)
		assert.Equal(t, before+1, testutil.ToFloat64(m.runTotal.WithLabelValues("react", "failure")))
	})

	t.Run("archived bytes", func(t *testing.T) {
		msgs := testutil.ToFloat64(m.archivedMessagesTotal)
		bytes := testutil.ToFloat64(m.archivedBytesTotal)
		RecordArchivedMessage(2048)
		assert.Equal(t, msgs+1, testutil.ToFloat64(m.archivedMessagesTotal))
		assert.Equal(t, bytes+2048, testutil.ToFloat64(m.archivedBytesTotal))
	})
}

func TestMetricsHandler(t *testing.T) {
	RecordToolExecution("exec_cmd", 10*time.Millisecond, true)

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stepwise_tool_execution_total{status="success",tool="exec_cmd"}`)
}
