package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/voxflow"
)

type fakeSubmitter struct {
	nextID string
	err    error
	// submitHook, when set, supplies the id for each submission in turn.
	submitHook func() string

	gotKind  voxflow.TaskKind
	gotText  string
	gotAudio []byte
}

func (f *fakeSubmitter) id() string {
	if f.submitHook != nil {
		return f.submitHook()
	}
	return f.nextID
}

func (f *fakeSubmitter) SubmitSTT(_ context.Context, _ string, audio []byte) (string, error) {
	f.gotKind, f.gotAudio = voxflow.KindSTT, audio
	return f.id(), f.err
}

func (f *fakeSubmitter) SubmitLLM(_ context.Context, text string) (string, error) {
	f.gotKind, f.gotText = voxflow.KindLLM, text
	return f.id(), f.err
}

func (f *fakeSubmitter) SubmitTTS(_ context.Context, text string) (string, error) {
	f.gotKind, f.gotText = voxflow.KindTTS, text
	return f.id(), f.err
}

type fakeStatusReader struct {
	results map[string]voxflow.TaskResult
}

func (f *fakeStatusReader) Get(_ context.Context, id string) (voxflow.TaskResult, error) {
	res, ok := f.results[id]
	if !ok {
		return voxflow.TaskResult{}, voxflow.ErrNotFound
	}
	return res, nil
}

type fakeAudio struct {
	files map[string][]byte
}

func (f *fakeAudio) Save(_ context.Context, filename string, data []byte) error {
	f.files[filename] = data
	return nil
}

func (f *fakeAudio) Open(_ context.Context, filename string) ([]byte, error) {
	data, ok := f.files[filename]
	if !ok {
		return nil, voxflow.ErrNotFound
	}
	return data, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSubmitter, *fakeStatusReader, *fakeAudio) {
	t.Helper()
	sub := &fakeSubmitter{nextID: "id-123"}
	status := &fakeStatusReader{results: map[string]voxflow.TaskResult{}}
	audio := &fakeAudio{files: map[string][]byte{}}
	ts := httptest.NewServer(NewServer(sub, status, audio, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, sub, status, audio
}

func TestServer_SubmitLLM(t *testing.T) {
	ts, sub, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/llm", "application/json",
		strings.NewReader(`{"text":"capital of France?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sr submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.Equal(t, "id-123", sr.TaskID)
	assert.Equal(t, "capital of France?", sub.gotText)
}

func TestServer_SubmitLLMEmptyText(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	for _, body := range []string{`{}`, `{"text":""}`, `not json`} {
		resp, err := http.Post(ts.URL+"/llm", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
	}
}

func TestServer_SubmitSTTMultipart(t *testing.T) {
	ts, sub, _, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "question.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFFwavbytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/stt", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("RIFFwavbytes"), sub.gotAudio)
}

func TestServer_SubmitSTTRawBody(t *testing.T) {
	ts, sub, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/stt", "audio/wav", bytes.NewReader([]byte{1, 2, 3}))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte{1, 2, 3}, sub.gotAudio)
}

func TestServer_SubmitValidationError(t *testing.T) {
	ts, sub, _, _ := newTestServer(t)
	sub.err = &voxflow.ValidationError{Kind: voxflow.KindSTT, Reason: "empty audio"}

	resp, err := http.Post(ts.URL+"/stt", "audio/wav", bytes.NewReader([]byte{1}))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SubmitBrokerUnavailable(t *testing.T) {
	ts, sub, _, _ := newTestServer(t)
	sub.err = fmt.Errorf("%w: dial tcp: connection refused", voxflow.ErrBrokerUnavailable)

	resp, err := http.Post(ts.URL+"/llm", "application/json",
		strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	ts, _, status, _ := newTestServer(t)
	status.results["p"] = voxflow.TaskResult{ID: "p", Status: voxflow.StatusPending}
	status.results["s"] = voxflow.TaskResult{ID: "s", Status: voxflow.StatusSuccess, Result: "Paris"}
	status.results["f"] = voxflow.TaskResult{ID: "f", Status: voxflow.StatusFailure, Error: "model overloaded"}

	cases := []struct {
		id     string
		status voxflow.TaskStatus
		result *string
	}{
		{"p", voxflow.StatusPending, nil},
		{"s", voxflow.StatusSuccess, ptr("Paris")},
		{"f", voxflow.StatusFailure, ptr("model overloaded")},
	}
	for _, tc := range cases {
		for _, path := range []string{"/task_status_stt/", "/task_status_llm/", "/task_status_tts/"} {
			resp, err := http.Get(ts.URL + path + tc.id)
			require.NoError(t, err)
			var sr statusResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
			resp.Body.Close()
			assert.Equal(t, tc.status, sr.Status)
			assert.Equal(t, tc.result, sr.Result)
		}
	}
}

func TestServer_StatusUnknownID(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/task_status_llm/never-submitted")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_GetAudio(t *testing.T) {
	ts, _, _, audio := newTestServer(t)
	audio.files["audio_1.mp3"] = []byte("mp3bytes")

	resp, err := http.Get(ts.URL + "/get_audio/audio_1.mp3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3bytes"), body.Bytes())
}

func TestServer_GetAudioMissing(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/get_audio/nope.mp3")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func ptr(s string) *string { return &s }
