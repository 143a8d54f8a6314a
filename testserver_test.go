// Copyright (c) 2026 Hopfenspace
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package hopfenmatrix

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/hopfenspace/hopfenmatrix/config"
)

// testServer is a minimal homeserver double recording what the bot sends.
type testServer struct {
	*httptest.Server

	mu          sync.Mutex
	sentEvents  []sentEvent
	uploads     int
	uploadTypes []string

	joinAttempts  map[id.RoomID]int
	failJoins     map[id.RoomID]int
	joinedMembers map[id.RoomID][]id.UserID

	displayName  string
	whoamiUserID id.UserID

	syncQueue []syncResponse
	syncCount int
}

type syncResponse struct {
	status int
	body   string
}

type sentEvent struct {
	RoomID  id.RoomID
	Type    string
	Content json.RawMessage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	srv := &testServer{
		joinAttempts:  map[id.RoomID]int{},
		failJoins:     map[id.RoomID]int{},
		joinedMembers: map[id.RoomID][]id.UserID{},
	}
	router := http.NewServeMux()
	router.HandleFunc("PUT /_matrix/client/v3/rooms/{roomID}/send/{eventType}/{txnID}", srv.putSendEvent)
	router.HandleFunc("POST /_matrix/client/v3/rooms/{roomID}/join", srv.postJoin)
	router.HandleFunc("GET /_matrix/client/v3/rooms/{roomID}/joined_members", srv.getJoinedMembers)
	router.HandleFunc("POST /_matrix/media/v3/upload", srv.postUpload)
	router.HandleFunc("GET /_matrix/client/v3/profile/{userID}/displayname", srv.getDisplayName)
	router.HandleFunc("PUT /_matrix/client/v3/profile/{userID}/displayname", srv.putDisplayName)
	router.HandleFunc("GET /_matrix/client/v3/account/whoami", srv.getWhoami)
	router.HandleFunc("POST /_matrix/client/v3/user/{userID}/filter", srv.postFilter)
	router.HandleFunc("GET /_matrix/client/v3/sync", srv.getSync)
	router.HandleFunc("POST /_matrix/client/v3/keys/upload", srv.postKeysUpload)
	router.HandleFunc("POST /_matrix/client/v3/keys/query", srv.postKeysQuery)
	srv.Server = httptest.NewServer(router)
	t.Cleanup(srv.Server.Close)
	return srv
}

func (srv *testServer) putSendEvent(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	srv.mu.Lock()
	roomID := id.RoomID(r.PathValue("roomID"))
	if roomID == "!broken:example.org" {
		srv.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errcode":"M_UNKNOWN","error":"meow"}`))
		return
	}
	srv.sentEvents = append(srv.sentEvents, sentEvent{
		RoomID:  roomID,
		Type:    r.PathValue("eventType"),
		Content: body,
	})
	eventID := fmt.Sprintf("$event-%d", len(srv.sentEvents))
	srv.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"event_id": eventID})
}

func (srv *testServer) postJoin(w http.ResponseWriter, r *http.Request) {
	roomID := id.RoomID(r.PathValue("roomID"))
	srv.mu.Lock()
	srv.joinAttempts[roomID]++
	shouldFail := srv.failJoins[roomID] > 0
	if shouldFail {
		srv.failJoins[roomID]--
	}
	srv.mu.Unlock()
	if shouldFail {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"nope"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"room_id": roomID.String()})
}

func (srv *testServer) getJoinedMembers(w http.ResponseWriter, r *http.Request) {
	roomID := id.RoomID(r.PathValue("roomID"))
	srv.mu.Lock()
	members, ok := srv.joinedMembers[roomID]
	srv.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"unknown room"}`))
		return
	}
	joined := make(map[id.UserID]struct{}, len(members))
	for _, member := range members {
		joined[member] = struct{}{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"joined": joined})
}

func (srv *testServer) postUpload(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	srv.mu.Lock()
	srv.uploads++
	srv.uploadTypes = append(srv.uploadTypes, r.Header.Get("Content-Type"))
	uri := fmt.Sprintf("mxc://example.org/upload-%d", srv.uploads)
	srv.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"content_uri": uri})
}

func (srv *testServer) postFilter(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	_ = json.NewEncoder(w).Encode(map[string]string{"filter_id": "1"})
}

// getSync pops from the queued responses, falling back to an empty sync.
func (srv *testServer) getSync(w http.ResponseWriter, _ *http.Request) {
	srv.mu.Lock()
	srv.syncCount++
	resp := syncResponse{http.StatusOK, fmt.Sprintf(`{"next_batch":"s%d"}`, srv.syncCount)}
	if len(srv.syncQueue) > 0 {
		resp = srv.syncQueue[0]
		srv.syncQueue = srv.syncQueue[1:]
	}
	srv.mu.Unlock()
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (srv *testServer) postKeysUpload(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	_, _ = w.Write([]byte(`{"one_time_key_counts":{"signed_curve25519":50}}`))
}

func (srv *testServer) postKeysQuery(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	_, _ = w.Write([]byte(`{"device_keys":{}}`))
}

func (srv *testServer) syncRequests() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.syncCount
}

func (srv *testServer) getDisplayName(w http.ResponseWriter, _ *http.Request) {
	srv.mu.Lock()
	name := srv.displayName
	srv.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"displayname": name})
}

func (srv *testServer) putDisplayName(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	_ = json.NewDecoder(r.Body).Decode(&req)
	srv.mu.Lock()
	srv.displayName = req["displayname"]
	srv.mu.Unlock()
	_, _ = w.Write([]byte("{}"))
}

func (srv *testServer) getWhoami(w http.ResponseWriter, _ *http.Request) {
	srv.mu.Lock()
	userID := srv.whoamiUserID
	srv.mu.Unlock()
	if userID == "" {
		userID = testUserID
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"user_id": userID.String()})
}

func (srv *testServer) lastSentEvent(t *testing.T) sentEvent {
	t.Helper()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.NotEmpty(t, srv.sentEvents)
	return srv.sentEvents[len(srv.sentEvents)-1]
}

func (srv *testServer) sentCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sentEvents)
}

const testUserID = id.UserID("@bot:example.org")

func newTestBot(t *testing.T) (*Bot, *testServer) {
	t.Helper()
	srv := newTestServer(t)
	minLevel := zerolog.Disabled
	cfg := &config.Config{
		Matrix: config.MatrixConfig{
			Homeserver:    srv.URL,
			UserID:        testUserID,
			Password:      "password",
			DeviceName:    "unit test",
			CommandPrefix: "!",
		},
		Database: dbutil.Config{
			PoolConfig: dbutil.PoolConfig{
				Type:         "sqlite3-fk-wal",
				URI:          "file::memory:?cache=shared",
				MaxOpenConns: 1,
				// Keep the single connection alive: an in-memory sqlite
				// database is destroyed when its last connection closes.
				MaxIdleConns: 1,
			},
		},
		Encryption: config.EncryptionConfig{PickleKey: "test-pickle-key"},
		Logging:    zeroconfig.Config{MinLevel: &minLevel},
	}
	bot, err := New(cfg)
	require.NoError(t, err)
	bot.Client.UserID = testUserID
	bot.Client.AccessToken = "syt_test_token"
	// The crypto helper's SQL state store is only upgraded during login,
	// which these tests skip.
	bot.Client.StateStore = mautrix.NewMemoryStateStore()
	bot.joinRetryDelay = time.Millisecond
	t.Cleanup(func() {
		_ = bot.Close()
	})
	return bot, srv
}
