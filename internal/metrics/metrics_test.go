package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"fieldsync/internal/fieldsync"
)

func TestPrometheus_Counters(t *testing.T) {
	p := NewPrometheus()

	p.WriteCompleted(fieldsync.OpCreate, "confirmed")
	p.WriteCompleted(fieldsync.OpCreate, "confirmed")
	p.WriteCompleted(fieldsync.OpUpdate, "queued")
	p.ItemDrained(fieldsync.EntityOrder, "conflicted")
	p.DrainFinished(2*time.Second, fieldsync.StopEmpty)
	p.QueueDepth(7)

	if got := testutil.ToFloat64(p.writesTotal.WithLabelValues("create", "confirmed")); got != 2 {
		t.Errorf("writes{create,confirmed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.writesTotal.WithLabelValues("update", "queued")); got != 1 {
		t.Errorf("writes{update,queued} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.drainedTotal.WithLabelValues("order", "conflicted")); got != 1 {
		t.Errorf("drained{order,conflicted} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.drainsTotal.WithLabelValues("empty")); got != 1 {
		t.Errorf("drains{empty} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.queueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
}

func TestPrometheus_Endpoint(t *testing.T) {
	p := NewPrometheus()
	p.QueueDepth(3)

	e := echo.New()
	p.Register(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fieldsync_queue_depth 3") {
		t.Errorf("body does not contain queue depth:\n%s", rec.Body.String())
	}
}
