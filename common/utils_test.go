package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCrawlID(t *testing.T) {
	before := time.Now().Truncate(time.Second)
	crawlID := GenerateCrawlID()
	after := time.Now().Truncate(time.Second).Add(time.Second)

	assert.Regexp(t, regexp.MustCompile(`^\d{14}$`), crawlID)

	parsed, err := time.ParseInLocation("20060102150405", crawlID, time.Local)
	require.NoError(t, err)
	assert.False(t, parsed.Before(before))
	assert.False(t, parsed.After(after))
}

func TestReadLinesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.txt")
	content := "alpha_news\n\n# comment\n   @bravo_channel   \nhttps://t.me/charlie_feed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lines, err := ReadLinesFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha_news", "@bravo_channel", "https://t.me/charlie_feed"}, lines)
}

func TestReadLinesFromFile_Missing(t *testing.T) {
	_, err := ReadLinesFromFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorContains(t, err, "failed to read file")
}

func TestLoadSeedFile_FromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Telegram-Netscan")
		w.Write([]byte("alpha_news\nbravo_channel\n"))
	}))
	defer server.Close()

	lines, err := LoadSeedFile(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha_news", "bravo_channel"}, lines)
}

func TestDownloadURLFile_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := DownloadURLFile(context.Background(), server.URL)
	assert.ErrorContains(t, err, "bad status code: 403")
}

func TestSetupLogging_WritesJSONFile(t *testing.T) {
	original := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = original
		zerolog.SetGlobalLevel(originalLevel)
	})

	path := filepath.Join(t.TempDir(), "logs", "terrorscan.log")
	closer, err := SetupLogging("debug", path)
	require.NoError(t, err)

	log.Info().Str("channel", "alpha").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel":"alpha"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetupLogging_ConsoleOnly(t *testing.T) {
	original := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = original
		zerolog.SetGlobalLevel(originalLevel)
	})

	closer, err := SetupLogging("not-a-level", "")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
