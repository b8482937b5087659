// Package server exposes retrieval and answer generation over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/logger"
	"github.com/xhad/recall/pkg/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types.
const (
	TypeQuery    = "query"
	TypeIngest   = "ingest"
	TypeMatches  = "matches"
	TypeResponse = "response"
	TypeStream   = "stream"
	TypeDone     = "done"
	TypeStatus   = "status"
	TypeError    = "error"
)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Retriever is the part of the pipeline the server drives.
type Retriever interface {
	Ingest(ctx context.Context, sources []string) (*rag.IngestReport, error)
	Answer(ctx context.Context, query string, k int) (*models.Answer, error)
}

type Config struct {
	K         int
	Streaming bool
}

type WSServer struct {
	config    Config
	retriever Retriever
	responder types.Generator
	log       *logrus.Entry
}

// conn serialises writes; handlers for one connection run concurrently.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func NewWSServer(config Config, retriever Retriever, responder types.Generator) *WSServer {
	if config.K <= 0 {
		config.K = rag.DefaultK
	}
	return &WSServer{
		config:    config,
		retriever: retriever,
		responder: responder,
		log:       logger.For("server"),
	}
}

// Handler routes /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("starting websocket server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("error reading message")
			}
			cancel()
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.send(c, Message{Type: TypeError, Content: "invalid message"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, msg Message) {
	switch msg.Type {
	case TypeQuery, "":
		s.handleQuery(ctx, c, msg.Content)
	case TypeIngest:
		s.handleIngest(ctx, c, msg.Content)
	default:
		s.send(c, Message{Type: TypeError, Content: fmt.Sprintf("unknown message type: %s", msg.Type)})
	}
}

func (s *WSServer) handleQuery(ctx context.Context, c *conn, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		s.send(c, Message{Type: TypeError, Content: "empty query"})
		return
	}

	answer, err := s.retriever.Answer(ctx, query, s.config.K)
	if err != nil {
		s.log.WithError(err).Error("retrieval failed")
		s.send(c, Message{Type: TypeError, Content: fmt.Sprintf("Error querying documents: %v", err)})
		return
	}
	s.send(c, Message{Type: TypeMatches, Data: answer.Matches})

	if len(answer.Matches) == 0 {
		s.send(c, Message{Type: TypeResponse, Content: llm.NoAnswer})
		return
	}

	if !s.config.Streaming {
		response, err := s.responder.Generate(ctx, query, answer.Context)
		if err != nil {
			s.send(c, Message{Type: TypeError, Content: fmt.Sprintf("Error: %v", err)})
			return
		}
		s.send(c, Message{Type: TypeResponse, Content: response})
		return
	}

	stream, err := s.responder.GenerateStream(ctx, query, answer.Context)
	if err != nil {
		s.send(c, Message{Type: TypeError, Content: fmt.Sprintf("Error: %v", err)})
		return
	}
	for chunk := range stream {
		if strings.HasPrefix(chunk, "Error:") {
			s.send(c, Message{Type: TypeError, Content: chunk})
			continue
		}
		s.send(c, Message{Type: TypeStream, Content: chunk})
	}
	s.send(c, Message{Type: TypeDone})
}

func (s *WSServer) handleIngest(ctx context.Context, c *conn, content string) {
	sources := strings.Fields(content)
	if len(sources) == 0 {
		s.send(c, Message{Type: TypeError, Content: "no sources given"})
		return
	}

	s.send(c, Message{Type: TypeStatus, Content: fmt.Sprintf("Ingesting %d source(s)", len(sources))})

	report, err := s.retriever.Ingest(ctx, sources)
	if err != nil {
		s.send(c, Message{Type: TypeError, Content: fmt.Sprintf("Ingestion failed: %v", err)})
		return
	}
	if report.Skipped {
		s.send(c, Message{Type: TypeStatus, Content: "Collection already populated", Data: report})
		return
	}
	s.send(c, Message{
		Type:    TypeStatus,
		Content: fmt.Sprintf("Stored %d chunks from %d source(s)", report.Chunks, len(report.Sources)),
		Data:    report,
	})
}

func (s *WSServer) send(c *conn, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		s.log.WithError(err).Debug("error sending message")
	}
}
