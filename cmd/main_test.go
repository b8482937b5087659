package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failFetcher struct{}

func (failFetcher) Fetch(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

func TestSourceListFlag(t *testing.T) {
	var sources sourceList
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&sources, "source", "")

	require.NoError(t, fs.Parse([]string{"-source", "a.txt", "-source", "https://example.com"}))
	assert.Equal(t, sourceList{"a.txt", "https://example.com"}, sources)
	assert.Equal(t, "a.txt,https://example.com", sources.String())
}

func TestCrawledFetcher(t *testing.T) {
	f := &crawledFetcher{pages: map[string]string{"https://example.com/": "cached"}, next: failFetcher{}}

	text, err := f.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "cached", text)

	_, err = f.Fetch(context.Background(), "https://example.com/other")
	assert.EqualError(t, err, "offline")
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := loadConfig(Options{Sources: sourceList{"notes.txt"}, K: 7, NoStream: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, cfg.Sources)
	assert.Equal(t, 7, cfg.Retrieval.K)
	assert.False(t, cfg.LLM.Streaming)
}
