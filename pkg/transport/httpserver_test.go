package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *objstore.BoltStore, *refstore.BoltStore) {
	t.Helper()
	objs := openTestObjs(t)
	refs, err := refstore.OpenBolt(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("refstore.OpenBolt: %v", err)
	}
	t.Cleanup(func() { refs.Close() })
	return NewServer(objs, refs), objs, refs
}

func TestHandleHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
}

func TestHandleListRefsAndCAS(t *testing.T) {
	s, _, refs := newTestServer(t)

	blobOid, err := s.Objs.WriteBlob([]byte("hello"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := refs.Write(types.RefBranch("main"), blobOid); err != nil {
		t.Fatalf("Write: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/refs", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}
	var resp refsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Refs[types.RefBranch("main")] != blobOid {
		t.Fatalf("expected heads/main = %q, got %+v", blobOid, resp.Refs)
	}

	newOid, err := s.Objs.WriteBlob([]byte("world"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	casBody, _ := json.Marshal(casRequest{Name: types.RefBranch("main"), Old: blobOid, New: newOid})
	req = httptest.NewRequest(http.MethodPost, "/v1/refs/cas", bytes.NewReader(casBody))
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}

	oid, ok, err := refs.Read(types.RefBranch("main"))
	if err != nil || !ok || oid != newOid {
		t.Fatalf("Read: oid=%q ok=%v err=%v", oid, ok, err)
	}
}

func TestHandleCASConflict(t *testing.T) {
	s, _, refs := newTestServer(t)
	blobOid, _ := s.Objs.WriteBlob([]byte("hello"))
	if err := refs.Write(types.RefBranch("main"), blobOid); err != nil {
		t.Fatalf("Write: %v", err)
	}

	casBody, _ := json.Marshal(casRequest{Name: types.RefBranch("main"), Old: "wrong", New: "anything"})
	req := httptest.NewRequest(http.MethodPost, "/v1/refs/cas", bytes.NewReader(casBody))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("got status %d, want 409", w.Code)
	}
}

func TestHandleObjectRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(objectWire{Kind: KindBlob, Data: base64.StdEncoding.EncodeToString([]byte("content"))})
	req := httptest.NewRequest(http.MethodPost, "/v1/objects", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}
	var created map[string]types.ObjectId
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	oid := created["oid"]

	req = httptest.NewRequest(http.MethodGet, "/v1/objects/"+string(oid), nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}
	var fetched objectWire
	if err := json.NewDecoder(w.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(fetched.Data)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if string(data) != "content" {
		t.Fatalf("got %q, want %q", data, "content")
	}
}

func TestHandleJoinWithoutRaftIsNotImplemented(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, _ := json.Marshal(joinRequest{NodeID: "n2", Address: "127.0.0.1:9000"})
	req := httptest.NewRequest(http.MethodPost, "/v1/join", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("got status %d, want 501", w.Code)
	}
}
