package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default, since the commands are
// package-level and keep parsed values between executions.
func resetFlags(cmds ...*cobra.Command) {
	for _, c := range cmds {
		for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
	}
}

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags(rootCmd, convertCmd, healthCmd, versionCmd)
	t.Cleanup(func() { resetFlags(rootCmd, convertCmd, healthCmd, versionCmd) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// inWorkDir switches to a fresh directory holding a file with the given name.
func inWorkDir(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	return dir
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// formValues parses the multipart upload and returns its text fields and file body.
func formValues(t *testing.T, r *http.Request) (map[string]string, string) {
	t.Helper()
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		t.Errorf("ParseMultipartForm() error = %v", err)
		return nil, ""
	}
	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		t.Errorf("FormFile() error = %v", err)
		return fields, ""
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	return fields, string(data)
}

func TestConvert_DefaultsFromExtensionAndServerFilename(t *testing.T) {
	dir := inWorkDir(t, "report.docx", "word document")

	var got map[string]string
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, body = formValues(t, r)
		w.Header().Set("Content-Disposition", "attachment; filename=converted.pdf")
		w.Header().Set("X-Cache", "MISS")
		_, _ = w.Write([]byte("%PDF-converted"))
	}))
	defer srv.Close()

	stdout, _, err := execute(t, "--server", srv.URL, "convert", "report.docx", "--to", "pdf")
	require.NoError(t, err)

	assert.Equal(t, "docx", got["inputFormat"])
	assert.Equal(t, "pdf", got["outputFormat"])
	assert.Equal(t, "false", got["pushToS3"])
	assert.Equal(t, "word document", body)

	data, err := os.ReadFile(filepath.Join(dir, "converted.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-converted", string(data))
	assert.Contains(t, stdout, "Wrote converted.pdf (14 bytes)")
	assert.NotContains(t, stdout, "Served from cache")
}

func TestConvert_ExplicitFlags(t *testing.T) {
	dir := inWorkDir(t, "notes", "plain words")

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = formValues(t, r)
		w.Header().Set("Content-Disposition", "attachment; filename=converted.pdf")
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("X-Result-URL", "https://bucket.example/converted/x.pdf")
		_, _ = w.Write([]byte("pdf"))
	}))
	defer srv.Close()

	out := filepath.Join(dir, "custom.pdf")
	stdout, _, err := execute(t, "--server", srv.URL, "convert", "notes", "--from", "txt", "--to", "pdf", "-o", out, "--push")
	require.NoError(t, err)

	assert.Equal(t, "txt", got["inputFormat"])
	assert.Equal(t, "true", got["pushToS3"])

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))
	_, err = os.Stat(filepath.Join(dir, "converted.pdf"))
	assert.True(t, os.IsNotExist(err), "server filename must not be used when -o is set")

	assert.Contains(t, stdout, "Served from cache")
	assert.Contains(t, stdout, "Archived to https://bucket.example/converted/x.pdf")
}

func TestConvert_NoExtensionRequiresFrom(t *testing.T) {
	inWorkDir(t, "README", "text")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, _, err := execute(t, "--server", srv.URL, "convert", "README", "--to", "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer input format")
	assert.Zero(t, calls.Load())
}

func TestConvert_RelayError(t *testing.T) {
	inWorkDir(t, "a.docx", "doc")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Conversion failed", "code": "CONVERSION_FAILED"})
	}))
	defer srv.Close()

	_, _, err := execute(t, "--server", srv.URL, "convert", "a.docx", "--to", "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONVERSION_FAILED")
}

func TestConvert_Async(t *testing.T) {
	dir := inWorkDir(t, "slides.pptx", "deck")

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		got, _ := formValues(t, r)
		assert.Equal(t, "pptx", got["inputFormat"])
		writeJSON(w, http.StatusAccepted, map[string]string{"id": "job-1", "status": "IN_QUEUE"})
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		status := "RUNNING"
		if polls.Add(1) >= 2 {
			status = "COMPLETED"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        r.PathValue("id"),
			"status":    status,
			"resultUrl": "https://bucket.example/converted/deck.pdf",
		})
	})
	mux.HandleFunc("GET /jobs/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", "attachment; filename=converted.pdf")
		_, _ = w.Write([]byte("deck pdf"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, stderr, err := execute(t, "--server", srv.URL, "convert", "slides.pptx", "--to", "pdf", "--async", "--poll", "5ms")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Submitted job job-1")
	assert.GreaterOrEqual(t, polls.Load(), int32(2))

	data, err := os.ReadFile(filepath.Join(dir, "converted.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "deck pdf", string(data))
	assert.Contains(t, stdout, "Archived to https://bucket.example/converted/deck.pdf")
}

func TestConvert_AsyncRejectsNonPositivePoll(t *testing.T) {
	inWorkDir(t, "a.docx", "doc")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	for _, poll := range []string{"0", "-1s"} {
		_, _, err := execute(t, "--server", srv.URL, "convert", "a.docx", "--to", "pdf", "--async", "--poll="+poll)
		require.Error(t, err, poll)
		assert.Contains(t, err.Error(), "--poll must be positive")
	}
	assert.Zero(t, calls.Load())
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "uptime": 12.4})
	}))
	defer srv.Close()

	stdout, _, err := execute(t, "--server", srv.URL, "health")
	require.NoError(t, err)
	assert.Equal(t, "OK (up 12s)\n", stdout)
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "convertctl dev\n", stdout)
}
