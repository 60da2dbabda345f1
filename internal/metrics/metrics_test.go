package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAuthEvent(t *testing.T) {
	before := testutil.ToFloat64(authEvents.WithLabelValues("login", "denied"))
	AuthEvent("login", "denied")
	AuthEvent("login", "denied")
	assert.Equal(t, before+2, testutil.ToFloat64(authEvents.WithLabelValues("login", "denied")))
}

func TestTokensRemovedSkipsZero(t *testing.T) {
	before := testutil.ToFloat64(ledgerRemoved.WithLabelValues("sweep"))
	TokensRemoved("sweep", 0)
	TokensRemoved("sweep", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(ledgerRemoved.WithLabelValues("sweep")))
}

func TestInstrumentUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Instrument)
	r.HandleFunc("/api/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods("GET")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/secret-token", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/items/{id}", "418")))
	assert.Zero(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/items/secret-token", "418")))
	assert.Zero(t, testutil.ToFloat64(httpInFlight))
}

func TestInitTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}
