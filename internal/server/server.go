// Package server provides the reference backend for the synchronization
// engine: the REST document store and the broadcast relay, in one
// process.
//
// The REST side implements the store contract the engine consumes
// (GET/POST/DELETE /documents, create-vs-update disambiguated by the
// presence of an id). The relay side fans each published frame out to
// every other websocket connection, optionally bridging instances through
// Redis pub/sub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/syncspace/syncspace/internal/docstore"
	"github.com/syncspace/syncspace/internal/storage"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080).
	Port int

	// Bridge for multi-instance relay fan-out. Nil for single-instance.
	Bridge Bridge

	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server serves the document REST API and the relay websocket endpoint.
type Server struct {
	addr     string
	db       *storage.DB
	hub      *Hub
	logger   *log.Logger
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a server over the given document database.
func New(db *storage.DB, config *Config) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Port == 0 {
		config.Port = 8080
	}

	s := &Server{
		addr:   fmt.Sprintf(":%d", config.Port),
		db:     db,
		hub:    NewHub(config.Bridge, config.Logger),
		logger: config.Logger,
	}
	return s, nil
}

// Start begins listening and serving. Non-blocking; use Stop to shut
// down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and all relay connections.
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")

	if err := s.hub.Close(); err != nil {
		s.logger.Printf("Error closing hub: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Server stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Router builds the gin engine with all routes. Exposed separately so
// tests can serve it through httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/documents", s.listDocuments)
	r.GET("/documents/:id", s.getDocument)
	r.POST("/documents", s.saveDocument)
	r.DELETE("/documents/:id", s.deleteDocument)
	r.GET("/ws", func(c *gin.Context) {
		s.hub.Handle(c.Writer, c.Request)
	})
	r.GET("/health", s.health)

	return r
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.db.ListDocuments(c.Request.Context())
	if err != nil {
		s.logger.Printf("List failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) getDocument(c *gin.Context) {
	id := c.Param("id")
	doc, err := s.db.GetDocument(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if err != nil {
		s.logger.Printf("Get %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// saveDocument creates or updates depending on whether the body carries
// an id. An unrecognized id is an error, not an implicit create; the
// engine counts on the store owning that distinction.
func (s *Server) saveDocument(c *gin.Context) {
	var doc docstore.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid document: %v", err)})
		return
	}

	ctx := c.Request.Context()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
		doc.CreatedAt = time.Now().UTC()
		if err := s.db.UpsertDocument(ctx, doc); err != nil {
			s.logger.Printf("Create failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create document"})
			return
		}
		c.JSON(http.StatusCreated, doc)
		return
	}

	existing, err := s.db.GetDocument(ctx, doc.ID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if err != nil {
		s.logger.Printf("Update lookup %s failed: %v", doc.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}

	doc.CreatedAt = existing.CreatedAt
	if err := s.db.UpsertDocument(ctx, doc); err != nil {
		s.logger.Printf("Update %s failed: %v", doc.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := s.db.DeleteDocument(c.Request.Context(), id); err != nil {
		s.logger.Printf("Delete %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
