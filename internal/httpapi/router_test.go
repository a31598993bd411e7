package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/auth"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/registry"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/room"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/session"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	deps := Deps{
		Rooms:    registry.New(room.SystemClock),
		Verifier: auth.NewTokenVerifier(auth.TokenConfig{SigningSecret: []byte("secret"), Issuer: "archischema"}),
		Oracle:   auth.NewStaticOracle(),
		SessCfg:  session.DefaultConfig(),
		Logger:   zap.NewNop(),
	}
	return NewServer(deps)
}

func doRequest(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestCreateRoomReturnsCreatedWithRoomFields(t *testing.T) {
	srv := testServer(t)
	diagramID, ownerID := uuid.New(), uuid.New()

	rec := doRequest(t, srv, http.MethodPost, "/api/liveshare/rooms", createRoomRequest{
		DiagramID: diagramID, OwnerID: ownerID, Name: "my diagram",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, diagramID, resp.DiagramID)
	require.Equal(t, ownerID, resp.OwnerID)
	require.True(t, resp.IsActive)
	require.False(t, resp.PasswordEnabled)
}

func TestCreateRoomWithPasswordMarksProtected(t *testing.T) {
	srv := testServer(t)
	password := "hunter2"

	rec := doRequest(t, srv, http.MethodPost, "/api/liveshare/rooms", createRoomRequest{
		DiagramID: uuid.New(), OwnerID: uuid.New(), Name: "secret room", Password: &password,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.PasswordEnabled)
}

func TestCreateRoomRejectsMalformedBody(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/liveshare/rooms", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoomReturnsNotFoundForUnknownID(t *testing.T) {
	srv := testServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/liveshare/rooms/"+uuid.New().String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRoomReturnsBadRequestForInvalidID(t *testing.T) {
	srv := testServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/liveshare/rooms/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoomRoundTripsCreatedRoom(t *testing.T) {
	srv := testServer(t)
	createRec := doRequest(t, srv, http.MethodPost, "/api/liveshare/rooms", createRoomRequest{
		DiagramID: uuid.New(), OwnerID: uuid.New(), Name: "room",
	})
	var created roomResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doRequest(t, srv, http.MethodGet, "/api/liveshare/rooms/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	require.Equal(t, created.ID, fetched.ID)
}

func TestDeleteRoomEndsRoomAndReturnsNoContent(t *testing.T) {
	srv := testServer(t)
	createRec := doRequest(t, srv, http.MethodPost, "/api/liveshare/rooms", createRoomRequest{
		DiagramID: uuid.New(), OwnerID: uuid.New(), Name: "room",
	})
	var created roomResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doRequest(t, srv, http.MethodDelete, "/api/liveshare/rooms/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	getRec := doRequest(t, srv, http.MethodGet, "/api/liveshare/rooms/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestDeleteRoomReturnsNotFoundForUnknownID(t *testing.T) {
	srv := testServer(t)
	rec := doRequest(t, srv, http.MethodDelete, "/api/liveshare/rooms/"+uuid.New().String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
