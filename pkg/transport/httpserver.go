package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/cuemby/manifold/pkg/log"
	"github.com/cuemby/manifold/pkg/metrics"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/security"
	"github.com/cuemby/manifold/pkg/types"
)

// Server exposes one manifold node's ref store and object store to
// remote peers over mTLS-secured HTTP/JSON (spec.md §4.6's network
// surface, rebuilt on go-chi in place of the teacher's grpc transport
// -- see DESIGN.md). Grounded on pkg/api/server.go's NewServer/TLS
// shape and pkg/api/health.go's liveness-route pattern, with the router
// itself in the style of _examples/jordigilh-kubernaut's chi+cors usage.
type Server struct {
	Objs objstore.Store
	Refs refstore.Store
	// Raft is non-nil only when Refs is backed by a *refstore.RaftStore;
	// it enables POST /v1/join. A non-clustered node leaves this nil and
	// the join route answers 501.
	Raft *refstore.RaftStore

	router chi.Router
}

// NewServer builds the HTTP router. Serve it plainly for tests, or
// behind mTLS with ListenAndServeTLS for a real deployment.
func NewServer(objs objstore.Store, refs refstore.Store) *Server {
	s := &Server{Objs: objs, Refs: refs}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/v1/refs", s.handleListRefs)
	r.Post("/v1/refs/cas", s.handleRefCAS)
	r.Post("/v1/refs/atomic", s.handleRefAtomic)
	r.Get("/v1/objects/{oid}", s.handleGetObject)
	r.Post("/v1/objects", s.handlePostObject)
	r.Post("/v1/join", s.handleJoin)

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServeTLS serves the router behind mTLS using the node and CA
// certificates under certDir (pkg/security.LoadCertFromFile /
// LoadCACertFromFile), mirroring pkg/api/server.go's tls.Config
// construction but over plain net/http instead of grpc's credentials.
func (s *Server) ListenAndServeTLS(addr, certDir string) error {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return fmt.Errorf("transport: load node certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return fmt.Errorf("transport: load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.router,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{*cert},
			ClientAuth:   tls.RequestClientCert,
			ClientCAs:    pool,
			MinVersion:   tls.VersionTLS13,
		},
	}
	log.WithComponent("transport").Info().Str("addr", addr).Msg("serving mTLS transport endpoint")
	return httpServer.ListenAndServeTLS("", "")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRefs(w http.ResponseWriter, r *http.Request) {
	names, err := s.Refs.List("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make(map[types.RefName]types.ObjectId, len(names))
	for _, name := range names {
		oid, ok, err := s.Refs.Read(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if ok {
			out[name] = oid
		}
	}
	writeJSON(w, http.StatusOK, refsResponse{Refs: out})
}

func (s *Server) handleRefCAS(w http.ResponseWriter, r *http.Request) {
	var req casRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Refs.CAS(req.Name, req.Old, req.New); err != nil {
		if errors.Is(err, types.ErrCasMismatch) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefAtomic(w http.ResponseWriter, r *http.Request) {
	var req atomicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Refs.AtomicUpdate(req.Edits); err != nil {
		if errors.Is(err, types.ErrCasMismatch) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	oid := types.ObjectId(chi.URLParam(r, "oid"))

	if data, err := s.Objs.ReadBlob(oid); err == nil {
		writeJSON(w, http.StatusOK, objectWire{Kind: KindBlob, Data: base64.StdEncoding.EncodeToString(data)})
		return
	}
	if tree, err := s.Objs.ReadTree(oid); err == nil {
		data, err := encodeJSON(tree)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, objectWire{Kind: KindTree, Data: base64.StdEncoding.EncodeToString(data)})
		return
	}
	if commit, err := s.Objs.ReadCommit(oid); err == nil {
		data, err := encodeJSON(commit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, objectWire{Kind: KindCommit, Data: base64.StdEncoding.EncodeToString(data)})
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", types.ErrNotFound, oid))
}

func (s *Server) handlePostObject(w http.ResponseWriter, r *http.Request) {
	var req objectWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var oid types.ObjectId
	switch req.Kind {
	case KindBlob:
		oid, err = s.Objs.WriteBlob(data)
	case KindTree:
		var tree objstore.Tree
		if err = decodeJSON(data, &tree); err == nil {
			oid, err = s.Objs.WriteTree(tree)
		}
	case KindCommit:
		var commit objstore.Commit
		if err = decodeJSON(data, &commit); err == nil {
			oid, err = s.Objs.CreateCommit(commit.Tree, commit.Parents, commit.Message)
		}
	default:
		err = fmt.Errorf("unknown object kind %q", req.Kind)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]types.ObjectId{"oid": oid})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if s.Raft == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("transport: this node is not running a clustered ref store"))
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Raft.AddVoter(req.NodeID, req.Address); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Wire shapes shared with HTTPClient.

type refsResponse struct {
	Refs map[types.RefName]types.ObjectId `json:"refs"`
}

type casRequest struct {
	Name types.RefName  `json:"name"`
	Old  types.ObjectId `json:"old"`
	New  types.ObjectId `json:"new"`
}

type atomicRequest struct {
	Edits []refstore.Edit `json:"edits"`
}

type objectWire struct {
	Kind ObjectKind `json:"kind"`
	Data string     `json:"data"`
}

type joinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.WithComponent("transport").Error().Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
