package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()

	r.ObserveOperation("install", nil, 150*time.Millisecond)
	r.ObserveOperation("install", errors.New("boom"), time.Second)
	r.ObserveDeviceCall("upload", nil, 20*time.Millisecond)
	r.SetInstalledApps(7)
	r.AddEventSubscribers(2)
	r.AddEventSubscribers(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("install", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("install", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deviceCalls.WithLabelValues("upload", "success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.installedApps))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.eventSubscribers))

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.ObserveOperation("install", nil, time.Second)
		r.ObserveDeviceCall("list", nil, time.Second)
		r.SetInstalledApps(1)
		r.AddEventSubscribers(1)
	})
	assert.Nil(t, r.Registry())
}

func TestHandler(t *testing.T) {
	r := New()
	r.ObserveOperation("remove", nil, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `apploader_operations_total{operation="remove",result="success"} 1`))
}
