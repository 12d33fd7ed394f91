package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/library-reservations/internal/handler"
	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/queue"
	"github.com/iliyamo/library-reservations/internal/repository"
	"github.com/iliyamo/library-reservations/internal/router"
	"github.com/iliyamo/library-reservations/internal/service"
	"github.com/iliyamo/library-reservations/internal/utils"
)

const (
	secret  = "handler-secret"
	staffID = 900
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type api struct {
	e     *echo.Echo
	store *repository.MemoryStore
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutVariant(model.Variant{ID: 1, BookID: 10, ISBN: "9780000000001", Title: "Dune"},
		model.Copy{ID: 1, Status: model.CopyOnLoan})
	store.PutVariant(model.Variant{ID: 2, BookID: 10, ISBN: "9780000000002", Title: "Dune (illustrated)"},
		model.Copy{ID: 2, Status: model.CopyAvailable})

	log := zaptest.NewLogger(t)
	availability := service.NewAvailability(store, true)
	lifecycle := service.NewLifecycle(store, availability, queue.NopPublisher{}, log, service.Policy{})

	e := echo.New()
	e.JSONSerializer = handler.JSONSerializer{}
	router.Register(e, router.Deps{
		Reservations: handler.NewReservationHandler(lifecycle, service.NewQueue(store), availability, log),
		Store:        store,
		JWTSecret:    secret,
	})
	return &api{e: e, store: store}
}

func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (a *api) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type reservationBody struct {
	ID            uint64  `json:"id"`
	UserID        uint64  `json:"userId"`
	VariantID     uint64  `json:"variantId"`
	Status        string  `json:"status"`
	ProcessedBy   *uint64 `json:"processedBy"`
	Extended      bool    `json:"extended"`
	QueuePosition *int    `json:"queuePosition"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (a *api) reserve(t *testing.T, userID, variantID uint64) reservationBody {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/reservations", token(t, userID, service.RoleUser),
		`{"variantId":`+itoa(variantID)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r reservationBody
	decode(t, rec, &r)
	return r
}

func itoa(v uint64) string {
	bs, _ := json.Marshal(v)
	return string(bs)
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("down") }

func TestHealth_StoreDown(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", handler.Health(downStore{}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreate_ReturnsQueuePosition(t *testing.T) {
	a := newAPI(t)

	first := a.reserve(t, 1, 1)
	second := a.reserve(t, 2, 1)

	assert.Equal(t, "Pending", first.Status)
	require.NotNil(t, first.QueuePosition)
	require.NotNil(t, second.QueuePosition)
	assert.Equal(t, 1, *first.QueuePosition)
	assert.Equal(t, 2, *second.QueuePosition)
}

func TestCreate_Errors(t *testing.T) {
	a := newAPI(t)
	a.reserve(t, 1, 1)

	cases := []struct {
		name   string
		tok    string
		body   string
		status int
		code   string
	}{
		{"no token", "", `{"variantId":1}`, http.StatusUnauthorized, "unauthorized"},
		{"duplicate", token(t, 1, service.RoleUser), `{"variantId":1}`, http.StatusConflict, "duplicate_reservation"},
		{"missing variant", token(t, 1, service.RoleUser), `{}`, http.StatusBadRequest, "validation_error"},
		{"unknown variant", token(t, 1, service.RoleUser), `{"variantId":99}`, http.StatusNotFound, "not_found"},
		{"for another user", token(t, 1, service.RoleUser), `{"userId":2,"variantId":2}`, http.StatusForbidden, "forbidden"},
		{"malformed body", token(t, 1, service.RoleUser), `{"variantId":`, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/v1/reservations", tc.tok, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error":"`+tc.code+`"`)
		})
	}
}

func TestCreate_StaffOnBehalfOfUser(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/reservations", token(t, staffID, service.RoleStaff), `{"userId":5,"variantId":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var r reservationBody
	decode(t, rec, &r)
	assert.Equal(t, uint64(5), r.UserID)
	require.NotNil(t, r.ProcessedBy)
	assert.Equal(t, uint64(staffID), *r.ProcessedBy)
}

func TestGetAndPosition_Ownership(t *testing.T) {
	a := newAPI(t)
	r := a.reserve(t, 1, 1)
	path := "/v1/reservations/" + itoa(r.ID)

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, path, token(t, 1, service.RoleUser), "").Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, path, token(t, 2, service.RoleUser), "").Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, path, token(t, staffID, service.RoleStaff), "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/reservations/999", token(t, staffID, service.RoleStaff), "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/reservations/abc", token(t, 1, service.RoleUser), "").Code)

	rec := a.do(t, http.MethodGet, path+"/position", token(t, 1, service.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reservationId":`+itoa(r.ID)+`,"queuePosition":1}`, rec.Body.String())
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, path+"/position", token(t, 2, service.RoleUser), "").Code)
}

func TestStaffRoutes_RejectUsers(t *testing.T) {
	a := newAPI(t)
	r := a.reserve(t, 1, 1)
	user := token(t, 1, service.RoleUser)
	id := itoa(r.ID)

	for _, rt := range []struct{ method, path string }{
		{http.MethodGet, "/v1/reservations"},
		{http.MethodGet, "/v1/reservations/queue/1"},
		{http.MethodGet, "/v1/reservations/next/1"},
		{http.MethodPost, "/v1/reservations/next/1/promote"},
		{http.MethodPost, "/v1/reservations/process-expired"},
		{http.MethodPut, "/v1/reservations/" + id + "/available"},
		{http.MethodPut, "/v1/reservations/" + id + "/collect"},
		{http.MethodDelete, "/v1/reservations/" + id + "/staff-cancel"},
	} {
		rec := a.do(t, rt.method, rt.path, user, "")
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", rt.method, rt.path)
	}
}

func TestStaffFlow_PromoteCollect(t *testing.T) {
	a := newAPI(t)
	staff := token(t, staffID, service.RoleAdmin)
	first := a.reserve(t, 1, 1)
	a.reserve(t, 2, 1)

	rec := a.do(t, http.MethodGet, "/v1/reservations/queue/1", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var q struct {
		VariantID uint64            `json:"variantId"`
		Queue     []reservationBody `json:"queue"`
	}
	decode(t, rec, &q)
	require.Len(t, q.Queue, 2)
	assert.Equal(t, 1, *q.Queue[0].QueuePosition)
	assert.Equal(t, 2, *q.Queue[1].QueuePosition)

	rec = a.do(t, http.MethodGet, "/v1/reservations/next/1", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var next reservationBody
	decode(t, rec, &next)
	assert.Equal(t, first.ID, next.ID)

	rec = a.do(t, http.MethodPut, "/v1/reservations/"+itoa(first.ID)+"/collect", staff, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_transition")

	rec = a.do(t, http.MethodPost, "/v1/reservations/next/1/promote", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var promoted reservationBody
	decode(t, rec, &promoted)
	assert.Equal(t, first.ID, promoted.ID)
	assert.Equal(t, "Available", promoted.Status)

	rec = a.do(t, http.MethodPut, "/v1/reservations/"+itoa(first.ID)+"/collect", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var collected reservationBody
	decode(t, rec, &collected)
	assert.Equal(t, "Collected", collected.Status)
	require.NotNil(t, collected.ProcessedBy)
	assert.Equal(t, uint64(staffID), *collected.ProcessedBy)

	rec = a.do(t, http.MethodGet, "/v1/reservations/"+itoa(first.ID)+"/position", token(t, 1, service.RoleUser), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_in_queue")
}

func TestStaffCancel(t *testing.T) {
	a := newAPI(t)
	staff := token(t, staffID, service.RoleStaff)
	r := a.reserve(t, 1, 1)
	path := "/v1/reservations/" + itoa(r.ID) + "/staff-cancel"

	rec := a.do(t, http.MethodDelete, path+"?staffId=901", staff, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodDelete, path+"?staffId=x", staff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodDelete, path+"?staffId="+itoa(staffID), staff, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"message":"reservation `+itoa(r.ID)+` canceled"`)
	assert.Contains(t, rec.Body.String(), `"status":"Canceled"`)

	rec = a.do(t, http.MethodDelete, path, staff, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdate(t *testing.T) {
	a := newAPI(t)
	staff := token(t, staffID, service.RoleStaff)
	r := a.reserve(t, 1, 1)
	path := "/v1/reservations/" + itoa(r.ID)

	rec := a.do(t, http.MethodPut, path, staff, `{"status":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPut, path, staff, `{"status":"fulfilled"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPut, path, staff, `{"status":"available"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPut, path, staff, `{"status":"Fulfilled"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out reservationBody
	decode(t, rec, &out)
	assert.Equal(t, "Collected", out.Status)

	rec = a.do(t, http.MethodPut, path, staff, `{"expirationDate":"2030-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExtend(t *testing.T) {
	a := newAPI(t)
	r := a.reserve(t, 1, 2)
	path := "/v1/reservations/" + itoa(r.ID) + "/extend"

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPut, path, token(t, 2, service.RoleUser), "").Code)

	rec := a.do(t, http.MethodPut, path, token(t, 1, service.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out reservationBody
	decode(t, rec, &out)
	assert.True(t, out.Extended)

	rec = a.do(t, http.MethodPut, path, token(t, 1, service.RoleUser), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_extended")
}

func TestProcessExpired(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/reservations", token(t, 1, service.RoleUser),
		`{"variantId":1,"expirationDate":"2000-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/v1/reservations/process-expired", token(t, staffID, service.RoleStaff), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"1 reservation(s) expired","count":1}`, rec.Body.String())
}

func TestSearchAndMyReservations(t *testing.T) {
	a := newAPI(t)
	staff := token(t, staffID, service.RoleStaff)
	a.reserve(t, 1, 1)
	a.reserve(t, 1, 2)
	a.reserve(t, 2, 1)

	rec := a.do(t, http.MethodGet, "/v1/reservations?page=1&pageSize=2", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data        []reservationBody `json:"data"`
		TotalCount  int64             `json:"totalCount"`
		Page        int               `json:"page"`
		PageSize    int               `json:"pageSize"`
		HasNextPage bool              `json:"hasNextPage"`
	}
	decode(t, rec, &page)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasNextPage)

	rec = a.do(t, http.MethodGet, "/v1/reservations?userId=1&keyword=illustrated", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, uint64(2), page.Data[0].VariantID)

	rec = a.do(t, http.MethodGet, "/v1/reservations?status=nope", staff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/my-reservations", token(t, 2, service.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, uint64(2), page.Data[0].UserID)
	assert.Equal(t, 20, page.PageSize)
}

func TestAvailability(t *testing.T) {
	a := newAPI(t)
	a.reserve(t, 1, 1)

	rec := a.do(t, http.MethodGet, "/v1/reservations/availability/1", token(t, 1, service.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"variantId":1,"isbn":"9780000000001","title":"Dune","totalCopies":1,"availableCopies":0,"pendingReservations":1,"canReserve":false}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/reservations/availability/1", token(t, 2, service.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"canReserve":true`)

	rec = a.do(t, http.MethodGet, "/v1/reservations/availability/book/10", token(t, 2, service.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var book struct {
		BookID   uint64 `json:"bookId"`
		Variants []struct {
			VariantID uint64 `json:"variantId"`
		} `json:"variants"`
	}
	decode(t, rec, &book)
	require.Len(t, book.Variants, 2)
	assert.Equal(t, uint64(1), book.Variants[0].VariantID)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/reservations/availability/77", token(t, 2, service.RoleUser), "").Code)
}
