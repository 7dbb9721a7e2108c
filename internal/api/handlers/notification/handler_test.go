package notification

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/statsor/notify/internal/analytics"
	"github.com/statsor/notify/internal/api/dto"
	"github.com/statsor/notify/internal/lifecycle"
	mocks "github.com/statsor/notify/internal/mocks/api/handlers/notification"
	"github.com/statsor/notify/internal/model"
	service "github.com/statsor/notify/internal/service/notification"
)

func setupHandler(t *testing.T) (*Handler, *mocks.MocknotificationService) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockService := mocks.NewMocknotificationService(ctrl)
	handler := NewHandler(mockService, validator.New())
	return handler, mockService
}

func testContext(w *httptest.ResponseRecorder, req *http.Request) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c
}

func TestHandler_Create_Success(t *testing.T) {
	handler, mockService := setupHandler(t)

	reqBody := dto.CreateRequest{
		Title:       "Match today",
		Message:     "Kickoff at 19:00",
		RecipientID: "user-1",
		Channels:    []string{"email", "push"},
	}

	bodyBytes, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/", bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	c := testContext(w, req)

	created := reqBody.ToModel()
	created.ID = uuid.New()
	created.TrackingID = uuid.New()
	created.Status = model.StatusPending

	mockService.EXPECT().
		CreateNotification(gomock.Any(), reqBody.ToModel()).
		Return(created, nil)

	handler.Create(c)

	assert.Equal(t, http.StatusCreated, w.Result().StatusCode)
}

func TestHandler_Create_MissingTitle(t *testing.T) {
	handler, _ := setupHandler(t)

	bodyBytes, _ := json.Marshal(dto.CreateRequest{Message: "no title", RecipientID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/", bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	c := testContext(w, req)

	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_CreateBatch_Success(t *testing.T) {
	handler, mockService := setupHandler(t)

	reqBody := dto.CreateBatchRequest{
		Notification: dto.CreateRequest{Title: "Update", Message: "Rollout tonight"},
		Recipients:   []string{"u1", "u2"},
	}

	bodyBytes, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/batch", bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	c := testContext(w, req)

	batchID := uuid.New()
	siblings := []model.Notification{{ID: uuid.New()}, {ID: uuid.New()}}

	mockService.EXPECT().
		CreateBatch(gomock.Any(), gomock.Any(), []string{"u1", "u2"}).
		Return(batchID, siblings, nil)

	handler.CreateBatch(c)

	assert.Equal(t, http.StatusCreated, w.Result().StatusCode)

	var resp struct {
		Result dto.CreateBatchResponse `json:"result"`
	}
	assert.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.Equal(t, batchID, resp.Result.BatchID)
	assert.Len(t, resp.Result.IDs, 2)
}

func TestHandler_CreateBatch_NoRecipients(t *testing.T) {
	handler, _ := setupHandler(t)

	reqBody := dto.CreateBatchRequest{
		Notification: dto.CreateRequest{Title: "Update", Message: "Rollout tonight"},
	}

	bodyBytes, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/batch", bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	c := testContext(w, req)

	handler.CreateBatch(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_GetStatus_Success(t *testing.T) {
	handler, mockService := setupHandler(t)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications/"+id.String()+"/status", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().GetStatus(gomock.Any(), id).Return(model.StatusPending, nil)

	handler.GetStatus(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_GetStatus_InvalidID(t *testing.T) {
	handler, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/nope/status", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}

	handler.GetStatus(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_Cancel_Conflict(t *testing.T) {
	handler, mockService := setupHandler(t)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/notifications/"+id.String(), nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().Cancel(gomock.Any(), id).Return(lifecycle.ErrInvalidTransition)

	handler.Cancel(c)

	assert.Equal(t, http.StatusConflict, w.Result().StatusCode)
}

func TestHandler_Retry_Exhausted(t *testing.T) {
	handler, mockService := setupHandler(t)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/"+id.String()+"/retry", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().Retry(gomock.Any(), id).Return(lifecycle.ErrRetryExhausted)

	handler.Retry(c)

	assert.Equal(t, http.StatusConflict, w.Result().StatusCode)
}

func TestHandler_List_RequiresRecipient(t *testing.T) {
	handler, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)

	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_List_Success(t *testing.T) {
	handler, mockService := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/?recipient_id=user-1&limit=10", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)

	mockService.EXPECT().
		ListByRecipient(gomock.Any(), "user-1", 10, 0).
		Return([]model.Notification{{ID: uuid.New()}}, nil)

	handler.List(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_UnreadCount(t *testing.T) {
	handler, mockService := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/unread-count?recipient_id=user-1", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)

	mockService.EXPECT().CountUnread(gomock.Any(), "user-1").Return(7, nil)

	handler.UnreadCount(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp struct {
		Result map[string]int `json:"result"`
	}
	assert.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.Equal(t, 7, resp.Result["unread"])
}

func TestHandler_BatchStats_NotFound(t *testing.T) {
	handler, mockService := setupHandler(t)

	batchID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/batches/"+batchID.String()+"/stats", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "batchId", Value: batchID.String()}}

	mockService.EXPECT().GetBatchStatistics(gomock.Any(), batchID).
		Return(analytics.Stats{}, service.ErrBatchNotFound)

	handler.BatchStats(c)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestHandler_BatchStats_Success(t *testing.T) {
	handler, mockService := setupHandler(t)

	batchID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/batches/"+batchID.String()+"/stats", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "batchId", Value: batchID.String()}}

	mockService.EXPECT().GetBatchStatistics(gomock.Any(), batchID).
		Return(analytics.Stats{Total: 3, Delivered: 2, Failed: 1, DeliveryRate: 200.0 / 3}, nil)

	handler.BatchStats(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_Archive(t *testing.T) {
	handler, mockService := setupHandler(t)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPut, "/api/notifications/"+id.String()+"/archive", nil)
	w := httptest.NewRecorder()
	c := testContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().SetArchived(gomock.Any(), id, true).Return(nil)

	handler.Archive(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}
