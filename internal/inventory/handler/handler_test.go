package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/internal/inventory/service"
	"lagerkoll/internal/inventory/store"
	"lagerkoll/internal/platform/logger"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/testutil"
)

type testServer struct {
	router   chi.Router
	workerID uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workerID := uuid.New()
	svc := service.New(store.NewInMemory(), service.WithLogger(logger.Discard()))
	router := chi.NewRouter()
	New(svc, testutil.StandardTokens(uuid.New(), workerID), logger.Discard()).Register(router)
	return &testServer{router: router, workerID: workerID}
}

// send issues an authenticated worker request.
func (s *testServer) send(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.WithBearer(testutil.NewJSONRequest(t, method, path, body), testutil.WorkerToken)
	return testutil.DoRequest(s.router, req)
}

func TestArticleLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.send(t, http.MethodPost, "/api/articles", models.CreateArticleRequest{ArticleNumber: "ART-1", Location: "A-01"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	article := testutil.DecodeResponse[models.Article](t, rr)

	twelve := 12
	rr = srv.send(t, http.MethodPost, "/api/inventory-counts", models.CreateInventoryCountRequest{ArticleID: article.ID, Count: &twelve})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	count := testutil.DecodeResponse[models.InventoryCount](t, rr)
	assert.Equal(t, srv.workerID, *count.UserID)

	rr = srv.send(t, http.MethodGet, "/api/articles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := testutil.DecodeResponse[[]models.Article](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, 12, list[0].TotalCounted)
	assert.Equal(t, 1, list[0].CountEntries)

	rr = srv.send(t, http.MethodGet, "/api/inventory-counts?articleId="+article.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, testutil.DecodeResponse[[]models.InventoryCount](t, rr), 1)

	rr = srv.send(t, http.MethodDelete, "/api/articles/"+article.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = srv.send(t, http.MethodGet, "/api/inventory-counts/"+count.ID.String(), nil)
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, dErrors.CodeNotFound)
}

func TestMarkInventoried(t *testing.T) {
	srv := newTestServer(t)

	create := func(status models.PickStatus) models.OrderLine {
		rr := srv.send(t, http.MethodPost, "/api/order-lines", models.CreateOrderLineRequest{
			OrderNumber: "ORD-1", ArticleNumber: "ART-1", Quantity: 2, PickStatus: status,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		return testutil.DecodeResponse[models.OrderLine](t, rr)
	}
	inventory := func(id uuid.UUID) (int, []byte) {
		rr := srv.send(t, http.MethodPost, "/api/order-lines/"+id.String()+"/inventory", nil)
		return rr.Code, rr.Body.Bytes()
	}

	t.Run("unpicked line is 422 with a business rule code", func(t *testing.T) {
		line := create(models.PickStatusNotPicked)
		rr := srv.send(t, http.MethodPost, "/api/order-lines/"+line.ID.String()+"/inventory", nil)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, dErrors.CodeBusinessRule)
	})

	t.Run("picked line is inventoried by the caller", func(t *testing.T) {
		line := create(models.PickStatusPicked)
		status, body := inventory(line.ID)
		require.Equal(t, http.StatusOK, status, string(body))
		assert.Contains(t, string(body), srv.workerID.String())

		status, _ = inventory(line.ID)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("filter by order number", func(t *testing.T) {
		rr := srv.send(t, http.MethodGet, "/api/order-lines?orderNumber=ORD-404", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})
}

func TestRequestErrors(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodGet, "/api/articles", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("negative count", func(t *testing.T) {
		neg := -1
		rr := srv.send(t, http.MethodPost, "/api/inventory-counts", models.CreateInventoryCountRequest{ArticleID: uuid.New(), Count: &neg})
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, dErrors.CodeValidation)
	})

	t.Run("bad article filter", func(t *testing.T) {
		rr := srv.send(t, http.MethodGet, "/api/inventory-counts?articleId=ART-1", nil)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, dErrors.CodeBadRequest)
	})

	t.Run("duplicate article number", func(t *testing.T) {
		body := models.CreateArticleRequest{ArticleNumber: "ART-7"}
		for _, want := range []int{http.StatusCreated, http.StatusConflict} {
			rr := srv.send(t, http.MethodPost, "/api/articles", body)
			assert.Equal(t, want, rr.Code)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		rr := srv.send(t, http.MethodDelete, "/api/order-lines/"+uuid.NewString(), nil)
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, dErrors.CodeNotFound)
	})
}
