package cmd

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitclient/packages/capture"
	"github.com/abdul-hamid-achik/hitclient/packages/db"
	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

// runCLI executes the root command with fresh flag state.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configFlag, verboseFlag, noColorFlag, charsetFlag = "", 0, true, ""
	cookieDBFlag, sessionFlag, insecureFlag = "", "default", false
	paramFlags, headerFlags, extractFlags = nil, nil, nil
	dataFlag, contentTypeFlag, schemaFlag, outputFormatFlag = "", "", "", "text"
	watchFlag = false
	downloadMethodFlag, downloadParamFlags = "GET", nil
	benchDurationFlag, benchRateFlag, benchWorkersFlag, benchMaxInFlightFlag = 30*time.Second, 10, 0, 100
	benchRampUpFlag, benchThresholdFlag, benchParamFlags = 0, "", nil
	benchNoProgressFlag, benchJSONFlag, benchMetricsFileFlag = false, false, ""

	configPath := filepath.Join(t.TempDir(), ".hitclient.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"readTimeout": 5000}`), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", configPath))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"a=1", "b=x=y", "a=2"}, "=")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "x=y"}, got)

	got, err = parsePairs([]string{"X-Token:  abc "}, ":")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, got)

	_, err = parsePairs([]string{"novalue"}, "=")
	assert.Error(t, err)

	got, err = parsePairs(nil, "=")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRequestParams(t *testing.T) {
	params, err := requestParams(nil, `{"a":1}`, "application/json")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		hithttp.ParamJSON:        "true",
		hithttp.ParamRawBody:     `{"a":1}`,
		hithttp.ParamContentType: "application/json",
	}, params)

	bodyFile := filepath.Join(t.TempDir(), "body.xml")
	require.NoError(t, os.WriteFile(bodyFile, []byte("<a/>"), 0644))
	params, err = requestParams(nil, "@"+bodyFile, "")
	require.NoError(t, err)
	assert.Equal(t, "<a/>", params[hithttp.ParamRawBody])
	assert.NotContains(t, params, hithttp.ParamContentType)

	_, err = requestParams([]string{"a=1"}, "raw", "")
	assert.Error(t, err)
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"explicit", &exitError{code: ExitConfigError, err: errors.New("x")}, ExitConfigError},
		{"io", &hithttp.RequestError{Kind: hithttp.KindIO, Err: errors.New("x")}, ExitNetworkError},
		{"protocol", &hithttp.RequestError{Kind: hithttp.KindProtocol, Err: errors.New("x")}, ExitProtocolError},
		{"unimplemented", &hithttp.RequestError{Kind: hithttp.KindUnimplemented, Err: errors.New("x")}, ExitUsageError},
		{"schema", capture.ErrSchemaMismatch, ExitCheckFailure},
		{"other", errors.New("x"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestRequestCommand_PersistsCookies(t *testing.T) {
	router := chi.NewRouter()
	router.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.FormValue("user"))
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s-1", Path: "/"})
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	router.Get("/home", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		if err != nil {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte("welcome " + c.Value))
	})
	server := httptest.NewServer(router)
	defer server.Close()

	cookieDB := filepath.Join(t.TempDir(), "cookies.db")

	out, err := runCLI(t, "request", "POST", server.URL+"/login", "-p", "user=alice", "--cookie-db", cookieDB, "--session", "web")
	require.NoError(t, err)
	assert.Equal(t, "welcome s-1\n", out)

	// a later invocation resumes the stored session
	out, err = runCLI(t, "request", "GET", server.URL+"/home", "--cookie-db", cookieDB, "--session", "web")
	require.NoError(t, err)
	assert.Equal(t, "welcome s-1\n", out)

	out, err = runCLI(t, "request", "GET", server.URL+"/home", "--cookie-db", cookieDB, "--session", "other")
	require.NoError(t, err)
	assert.Equal(t, "anonymous\n", out)

	store, err := db.Open(cookieDB)
	require.NoError(t, err)
	defer store.Close()
	names, err := store.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, names)
}

func TestRequestCommand_ExtractAndSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"id": 7, "name": "alice"}}`))
	}))
	defer server.Close()

	out, err := runCLI(t, "request", "GET", server.URL, "-x", "id=data.id", "-x", "name=data.name")
	require.NoError(t, err)
	assert.Equal(t, "id=7\nname=alice\n", out)

	_, err = runCLI(t, "request", "GET", server.URL, "-x", "email=data.email")
	require.Error(t, err)
	assert.Equal(t, ExitCheckFailure, exitCodeFor(err))

	schema := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"type": "object", "required": ["items"]}`), 0644))
	_, err = runCLI(t, "request", "GET", server.URL, "--schema", schema)
	require.Error(t, err)
	assert.Equal(t, ExitCheckFailure, exitCodeFor(err))
}

func TestRequestCommand_UsageErrors(t *testing.T) {
	_, err := runCLI(t, "request", "PATCH", "http://example.com/")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, exitCodeFor(err))

	_, err = runCLI(t, "request", "PUT", "http://example.com/")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, exitCodeFor(err))

	_, err = runCLI(t, "request", "GET", "ftp://example.com/")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, exitCodeFor(err))
}

func TestDownloadCommand(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 100_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	out, err := runCLI(t, "download", server.URL+"/file", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "1000000 bytes")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be cleaned up")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hitclient version dev")
}

func TestBenchCommand_MetricsFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	metricsPath := filepath.Join(t.TempDir(), "bench.prom")
	out, err := runCLI(t, "bench", "GET", server.URL+"/ping",
		"--duration", "300ms", "--rate", "20", "--no-progress", "--metrics-file", metricsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hitclient_bench_requests_total")
	assert.Contains(t, string(data), "hitclient_bench_response_bytes_total")
}

func TestBenchCommand_FailedThresholds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
	}))
	defer server.Close()

	_, err := runCLI(t, "bench", "GET", server.URL, "--duration", "200ms", "--rate", "10",
		"--no-progress", "--threshold", "p95<1ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, exitCodeFor(err))
}
