package reservations

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Route("/reservations", NewHandler(nil, f.svc).MountRoutes)
	return r
}

func reservationBody(f *fixture, qty int64, deposit float64) string {
	return fmt.Sprintf(`{"customer_name":"Dewi","deposit":%g,"expires_at":%q,"lines":[{"product_id":1,"quantity":%d,"unit_price":500}]}`,
		deposit, f.clock.Add(48*time.Hour).Format(time.RFC3339), qty)
}

func TestHandlerCreateCompleteAndCancel(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(reservationBody(f, 2, 100))))
	require.Equal(t, http.StatusCreated, rec.Code)
	var res Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, StatusActive, res.Status)
	require.Equal(t, int64(8), f.store.Quantity(1))

	path := "/reservations/" + strconv.FormatInt(res.ID, 10)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"/complete", strings.NewReader(`{"payment_method":"card"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var completed completeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.Equal(t, StatusCompleted, completed.Reservation.Status)
	require.Equal(t, sales.PaymentCard, completed.Sale.PaymentMethod)
	require.Equal(t, int64(8), f.store.Quantity(1))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"/cancel", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "invalid_state_transition", problem.Kind)
}

func TestHandlerCompleteWithoutBodyDefaultsToCash(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, 1, 48*time.Hour)

	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations/"+strconv.FormatInt(res.ID, 10)+"/complete", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var completed completeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.Equal(t, sales.PaymentCash, completed.Sale.PaymentMethod)
}

func TestHandlerReservationErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"missing lines", http.MethodPost, "/reservations", `{"customer_name":"Dewi","expires_at":"2026-03-05T10:00:00Z","lines":[]}`, http.StatusBadRequest, "validation"},
		{"deposit above total", http.MethodPost, "/reservations", reservationBody(f, 1, 900), http.StatusBadRequest, "validation"},
		{"more than on hand", http.MethodPost, "/reservations", reservationBody(f, 11, 0), http.StatusConflict, "insufficient_stock"},
		{"unknown reservation", http.MethodGet, "/reservations/404", "", http.StatusNotFound, "not_found"},
		{"bad payment method", http.MethodPost, "/reservations/1/complete", `{"payment_method":"barter"}`, http.StatusBadRequest, "validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code)
			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, tc.kind, problem.Kind)
		})
	}
	require.Equal(t, int64(10), f.store.Quantity(1))
}

func TestHandlerListViews(t *testing.T) {
	f := newFixture(t)
	f.reserve(t, 1, 2*time.Hour)
	f.reserve(t, 1, 72*time.Hour)

	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reservations?view=expiring", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, 1, list.Pagination.Total)
}
