package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceproc/internal/application"
	"voiceproc/internal/domain"
	"voiceproc/internal/infra/metrics"
)

var _ application.Metrics = (*metrics.Recorder)(nil)

func TestRecorder_StateGaugeIsExclusive(t *testing.T) {
	r := metrics.NewRecorder()

	r.StateChanged(domain.StateRunning)
	r.StateChanged(domain.StateInterrupted)

	out := scrape(t, r)
	assert.Contains(t, out, `voiceproc_pipeline_state{state="interrupted"} 1`)
	assert.Contains(t, out, `voiceproc_pipeline_state{state="running"} 0`)
}

func TestRecorder_Counters(t *testing.T) {
	r := metrics.NewRecorder()

	r.ConfigurationChanged()
	r.ConfigurationChanged()
	r.Interruption(domain.InterruptionBegan)
	r.RecoveryFailed("session_activation")
	r.ModeSwitched(true, true)
	r.ModeSwitched(true, false)
	r.VoiceProcessing(true)
	r.Fatal()
	r.Reinitialized()

	out := scrape(t, r)
	assert.Contains(t, out, "voiceproc_configuration_changes_total 2")
	assert.Contains(t, out, `voiceproc_interruptions_total{type="began"} 1`)
	assert.Contains(t, out, `voiceproc_recovery_failures_total{stage="session_activation"} 1`)
	assert.Contains(t, out, `voiceproc_voice_processing_switches_total{enabled="true",result="ok"} 1`)
	assert.Contains(t, out, `voiceproc_voice_processing_switches_total{enabled="true",result="failed"} 1`)
	assert.Contains(t, out, "voiceproc_voice_processing_enabled 1")

	r.VoiceProcessing(false)
	assert.Contains(t, scrape(t, r), "voiceproc_voice_processing_enabled 0")
	assert.Contains(t, out, "voiceproc_fatal_events_total 1")
	assert.Contains(t, out, "voiceproc_reinitializations_total 1")

	count, err := testutil.GatherAndCount(r.Registry(), "voiceproc_configuration_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func scrape(t *testing.T, r *metrics.Recorder) string {
	t.Helper()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
