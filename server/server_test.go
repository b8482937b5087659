package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/logger"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/rag"
	"github.com/xhad/recall/pkg/store"
)

type staticFetcher map[string]string

func (f staticFetcher) Fetch(_ context.Context, source string) (string, error) {
	if text, ok := f[source]; ok {
		return text, nil
	}
	return "", errors.New("not found")
}

// echoResponder answers with the context it was given.
type echoResponder struct{}

func (echoResponder) Generate(_ context.Context, query, contextText string) (string, error) {
	return "answer: " + contextText, nil
}

func (echoResponder) GenerateStream(_ context.Context, query, contextText string) (<-chan string, error) {
	ch := make(chan string, 2)
	ch <- "answer: "
	ch <- contextText
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, config Config) (*httptest.Server, *rag.Pipeline) {
	t.Helper()
	logger.SetOutput(io.Discard)

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: llm.ProviderHashing, Dimension: 128})
	require.NoError(t, err)

	fetcher := staticFetcher{
		"ec2": "Use the latest EC2 generation for G-family instances.",
		"ebs": "Delete unattached EBS volumes.",
	}
	pipeline := rag.New(fetcher, chunker, embedder, store.NewMemory(types.MetricCosine), rag.Config{Logger: logger.Discard()})

	ts := httptest.NewServer(NewWSServer(config, pipeline, echoResponder{}).Handler())
	t.Cleanup(ts.Close)
	return ts, pipeline
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestQuery_EmptyCollection(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	ws := dial(t, ts)

	require.NoError(t, ws.WriteJSON(Message{Type: TypeQuery, Content: "What instance type should I use?"}))

	matches := read(t, ws)
	assert.Equal(t, TypeMatches, matches.Type)
	assert.Empty(t, matches.Data)

	response := read(t, ws)
	assert.Equal(t, TypeResponse, response.Type)
	assert.Equal(t, llm.NoAnswer, response.Content)
}

func TestIngestThenQuery(t *testing.T) {
	ts, _ := newTestServer(t, Config{K: 1})
	ws := dial(t, ts)

	require.NoError(t, ws.WriteJSON(Message{Type: TypeIngest, Content: "ec2 ebs missing"}))
	assert.Equal(t, "Ingesting 3 source(s)", read(t, ws).Content)

	status := read(t, ws)
	assert.Equal(t, TypeStatus, status.Type)
	assert.Equal(t, "Stored 2 chunks from 2 source(s)", status.Content)

	require.NoError(t, ws.WriteJSON(Message{Type: TypeIngest, Content: "ec2"}))
	read(t, ws)
	assert.Equal(t, "Collection already populated", read(t, ws).Content)

	require.NoError(t, ws.WriteJSON(Message{Type: TypeQuery, Content: "latest EC2 generation"}))

	matches := read(t, ws)
	require.Equal(t, TypeMatches, matches.Type)
	found, ok := matches.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, found, 1)

	response := read(t, ws)
	assert.Equal(t, TypeResponse, response.Type)
	assert.Equal(t, "answer: Use the latest EC2 generation for G-family instances.", response.Content)
}

func TestQuery_Streaming(t *testing.T) {
	ts, pipeline := newTestServer(t, Config{K: 1, Streaming: true})
	_, err := pipeline.Ingest(context.Background(), []string{"ebs"})
	require.NoError(t, err)

	ws := dial(t, ts)
	require.NoError(t, ws.WriteJSON(Message{Content: "EBS volumes"}))

	assert.Equal(t, TypeMatches, read(t, ws).Type)

	var parts []string
	for {
		msg := read(t, ws)
		if msg.Type == TypeDone {
			break
		}
		require.Equal(t, TypeStream, msg.Type)
		parts = append(parts, msg.Content)
	}
	assert.Equal(t, "answer: Delete unattached EBS volumes.", strings.Join(parts, ""))
}

func TestInvalidMessages(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	ws := dial(t, ts)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, TypeError, read(t, ws).Type)

	require.NoError(t, ws.WriteJSON(Message{Type: "delete"}))
	msg := read(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Content, "unknown message type")

	require.NoError(t, ws.WriteJSON(Message{Type: TypeIngest}))
	assert.Equal(t, "no sources given", read(t, ws).Content)
}
