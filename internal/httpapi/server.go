// Package httpapi is the subscription server's external transport (spec §6):
// URL-convention routing to a deployment plus a graphql-ws WebSocket
// handshake, grounded on original_source/server/websocket/src/server.rs's
// resolve-before-upgrade ordering (SPEC_FULL §C.4) and
// original_source/server/http/src/request.rs's name-segment rejoining
// (§C.5). The query-language grammar that would turn a client's raw
// subscription payload into a subscription.Document is out of scope (spec
// §9 Non-goals); callers inject a FieldResolver that does that translation.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/subgraphd/indexnode/internal/entitystore"
	"github.com/subgraphd/indexnode/internal/subscription"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
	"github.com/subgraphd/indexnode/pkg/metrics"
)

// metaDeployment names the "subgraph of subgraphs" deployment the bare
// /subgraphs path resolves to, mirroring the registrar's own meta-entity
// deployment (internal/registrar.metaDeployment) without importing it, to
// avoid a transport-layer dependency on the registrar's internals.
const metaDeployment = "subgraphs"

const graphqlWSSubprotocol = "graphql-ws"

// FieldResolver turns one client subscription payload into a resolved
// subscription.Document for the given deployment.
type FieldResolver func(ctx context.Context, deployment string, payload json.RawMessage) (subscription.Document, error)

// Server serves the subscription WebSocket endpoint over the URL convention
// from spec §6.
type Server struct {
	store    entitystore.Store
	engine   *subscription.Engine
	resolve  FieldResolver
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewServer(store entitystore.Store, engine *subscription.Engine, resolve FieldResolver, log *logger.Logger) *Server {
	return &Server{
		store:   store,
		engine:  engine,
		resolve: resolve,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{graphqlWSSubprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: log.Component("httpapi"),
	}
}

// Router builds the mux.Router covering the three URL forms spec §6 names.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/subgraphs", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/subgraphs/id/{id}", s.handleWS).Methods(http.MethodGet)
	r.PathPrefix("/subgraphs/name/").HandlerFunc(s.handleWS).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// resolveDeployment implements the three-form URL convention from spec §6:
// the bare listing path, an id path, and a (possibly multi-segment) name
// path whose segments are rejoined with "/" before resolution.
func (s *Server) resolveDeployment(ctx context.Context, r *http.Request) (string, error) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] == "subgraphs":
		return metaDeployment, nil
	case len(segments) >= 3 && segments[0] == "subgraphs" && segments[1] == "id":
		return segments[2], nil
	case len(segments) >= 3 && segments[0] == "subgraphs" && segments[1] == "name":
		name := strings.Join(segments[2:], "/")
		id, err := s.store.ResolveSubgraphNameToID(ctx, name)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", pkgerrors.DeploymentNotFound(name)
		}
		return id, nil
	default:
		return "", pkgerrors.DeploymentNotFound(r.URL.Path)
	}
}

// handleWS resolves the deployment and checks it is deployed BEFORE
// upgrading the connection, so an absent deployment gets a plain HTTP 404
// rather than a WebSocket close frame (spec §6, SPEC_FULL §C.4).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deployment, err := s.resolveDeployment(ctx, r)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	deployed, err := s.store.IsDeployed(ctx, deployment)
	if err != nil || !deployed {
		if err != nil {
			s.log.WithError(err).WithFields(map[string]any{"deployment": deployment}).
				Warn("failed to check deployment status")
		}
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newConnection(conn, s, deployment)
	c.serve(r.Context())
}
