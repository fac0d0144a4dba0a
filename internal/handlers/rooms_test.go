package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

type historyStub struct {
	msgs []models.ChatMessage
	err  error
}

func (s historyStub) History(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	return s.msgs, s.err
}

func setupRoomRouter(handler *RoomHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/rooms", handler.ListRooms)
	r.GET("/rooms/:room_id/messages", handler.GetRoomMessages)
	r.GET("/rooms/:room_id/participants", handler.GetParticipants)
	return r
}

func TestListRooms(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("ListRooms", mock.Anything).Return([]models.ChatRoom{{ID: 1, Name: "lobby"}}, nil).Once()
	router := setupRoomRouter(NewRoomHandler(rooms, historyStub{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.ChatRoom `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "lobby", resp.Rooms[0].Name)
	rooms.AssertExpectations(t)
}

func TestGetRoomMessages(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(1)).Return(models.ChatRoom{ID: 1}, nil)
	history := historyStub{msgs: []models.ChatMessage{
		{Type: models.MessageTalk, ChatRoomID: 1, SenderUserID: 7, Body: "a", Position: 1, SentAt: time.Unix(0, 0).UTC()},
		{Type: models.MessageTalk, ChatRoomID: 1, SenderUserID: 8, Body: "b", Position: 2, SentAt: time.Unix(0, 0).UTC()},
	}}
	router := setupRoomRouter(NewRoomHandler(rooms, history, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "b", resp.Messages[1].Body)
}

func TestGetRoomMessagesEmptyRoomReturnsArray(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(1)).Return(models.ChatRoom{ID: 1}, nil)
	router := setupRoomRouter(NewRoomHandler(rooms, historyStub{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestGetRoomMessagesErrors(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(1)).Return(models.ChatRoom{ID: 1}, nil)
	rooms.On("GetRoom", mock.Anything, int64(404)).Return(nil, repositories.ErrRoomNotFound)
	router := setupRoomRouter(NewRoomHandler(rooms, historyStub{err: assert.AnError}, nil))

	cases := map[string]int{
		"/rooms/abc/messages": http.StatusBadRequest,
		"/rooms/0/messages":   http.StatusBadRequest,
		"/rooms/404/messages": http.StatusNotFound,
		"/rooms/1/messages":   http.StatusInternalServerError,
	}
	for path, status := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, status, rec.Code, path)
	}
}

func TestGetParticipants(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(1)).Return(models.ChatRoom{ID: 1}, nil)
	registry := new(mocks.SessionRegistryMock)
	registry.On("Participants", mock.Anything, int64(1)).
		Return([]models.Participant{{ConnID: "c1", UserID: 7, DisplayName: "alice", Instance: "a"}}, nil).Once()
	router := setupRoomRouter(NewRoomHandler(rooms, historyStub{}, registry))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/1/participants", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Participants []models.Participant `json:"participants"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Participants, 1)
	assert.Equal(t, int64(7), resp.Participants[0].UserID)
	registry.AssertExpectations(t)
}

func TestGetParticipantsRegistryDown(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(1)).Return(models.ChatRoom{ID: 1}, nil)
	registry := new(mocks.SessionRegistryMock)
	registry.On("Participants", mock.Anything, int64(1)).Return(nil, repositories.ErrStoreUnavailable).Once()
	router := setupRoomRouter(NewRoomHandler(rooms, historyStub{}, registry))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/1/participants", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
