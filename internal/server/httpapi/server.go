// Package httpapi exposes the record store over the planbook REST API.
//
// Routes (all under /api/v1, all but ping require a bearer token):
//
//	GET    /ping
//	GET    /{collection}?since=<RFC3339Nano>
//	POST   /{collection}
//	PATCH  /{collection}/{id}
//	DELETE /{collection}/{id}
//
// where collection is one of categories, tasks or time-blocks.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/logging"
	"github.com/dmitrijs2005/planbook/internal/server/models"
)

const shutdownTimeout = 10 * time.Second

// RecordStore is what the handlers need from the records service.
type RecordStore interface {
	Create(ctx context.Context, userID string, kind models.Kind, fields json.RawMessage) (*models.Record, error)
	Update(ctx context.Context, userID string, kind models.Kind, id int64, fields json.RawMessage) (*models.Record, error)
	Delete(ctx context.Context, userID string, kind models.Kind, id int64) error
	ListSince(ctx context.Context, userID string, kind models.Kind, since *time.Time) ([]*models.Record, error)
}

type Server struct {
	address   string
	records   RecordStore
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, records RecordStore, secretKey string) *Server {
	return &Server{
		address:   address,
		records:   records,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(secretKey),
	}
}

// Handler returns the routed API with logging and authentication applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	p := common.APIPrefix

	mux.HandleFunc("GET "+p+"/ping", s.ping)
	mux.Handle("GET "+p+"/{collection}", s.authenticate(http.HandlerFunc(s.list)))
	mux.Handle("POST "+p+"/{collection}", s.authenticate(http.HandlerFunc(s.create)))
	mux.Handle("PATCH "+p+"/{collection}/{id}", s.authenticate(http.HandlerFunc(s.update)))
	mux.Handle("DELETE "+p+"/{collection}/{id}", s.authenticate(http.HandlerFunc(s.delete)))

	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(sctx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())
	if err := srv.Serve(listen); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
