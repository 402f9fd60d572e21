package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/mohans/voxflow"
)

// Client talks to the voxflow HTTP API and sequences the full pipeline:
// submit a stage, poll its status endpoint until a terminal state, feed the
// output into the next stage.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Poller  voxflow.Poller
}

func NewClient(baseURL string, poller voxflow.Poller) *Client {
	return &Client{BaseURL: baseURL, HTTP: http.DefaultClient, Poller: poller}
}

// PipelineResult is the output of one full utterance round trip.
type PipelineResult struct {
	Transcript    string
	Answer        string
	AudioFilename string
	Audio         []byte
}

// RunPipeline drives audio through STT, the transcript through the LLM and
// the answer through TTS, then fetches the synthesized audio. Stage ordering
// is enforced here, on the client side, not by the queue layer.
func (c *Client) RunPipeline(ctx context.Context, filename string, audio []byte) (*PipelineResult, error) {
	sttID, err := c.SubmitSTT(ctx, filename, audio)
	if err != nil {
		return nil, fmt.Errorf("submit stt: %w", err)
	}
	transcript, err := c.pollStage(ctx, voxflow.KindSTT, sttID)
	if err != nil {
		return nil, err
	}

	llmID, err := c.SubmitLLM(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("submit llm: %w", err)
	}
	answer, err := c.pollStage(ctx, voxflow.KindLLM, llmID)
	if err != nil {
		return nil, err
	}

	ttsID, err := c.SubmitTTS(ctx, answer)
	if err != nil {
		return nil, fmt.Errorf("submit tts: %w", err)
	}
	audioName, err := c.pollStage(ctx, voxflow.KindTTS, ttsID)
	if err != nil {
		return nil, err
	}

	speech, err := c.GetAudio(ctx, audioName)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	return &PipelineResult{
		Transcript:    transcript,
		Answer:        answer,
		AudioFilename: audioName,
		Audio:         speech,
	}, nil
}

func (c *Client) pollStage(ctx context.Context, kind voxflow.TaskKind, id string) (string, error) {
	res, err := c.Poller.PollUntilTerminal(ctx, id, func(ctx context.Context, id string) (voxflow.TaskResult, error) {
		return c.TaskStatus(ctx, kind, id)
	})
	if err != nil {
		return "", fmt.Errorf("poll %s task %s: %w", kind, id, err)
	}
	if res.Status == voxflow.StatusFailure {
		return "", fmt.Errorf("%s task %s failed: %s", kind, id, res.Error)
	}
	return res.Result, nil
}

// SubmitSTT posts audio as a multipart form and returns the task id.
func (c *Client) SubmitSTT(ctx context.Context, filename string, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return c.submit(ctx, "/stt", mw.FormDataContentType(), &body)
}

func (c *Client) SubmitLLM(ctx context.Context, text string) (string, error) {
	return c.submitText(ctx, "/llm", text)
}

func (c *Client) SubmitTTS(ctx context.Context, text string) (string, error) {
	return c.submitText(ctx, "/tts", text)
}

func (c *Client) submitText(ctx context.Context, path, text string) (string, error) {
	body, err := json.Marshal(textRequest{Text: text})
	if err != nil {
		return "", err
	}
	return c.submit(ctx, path, "application/json", bytes.NewReader(body))
}

func (c *Client) submit(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit %s: %s", path, readError(resp))
	}
	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return sr.TaskID, nil
}

// TaskStatus queries the per-stage status endpoint. Unknown ids surface as
// voxflow.ErrNotFound.
func (c *Client) TaskStatus(ctx context.Context, kind voxflow.TaskKind, id string) (voxflow.TaskResult, error) {
	u := fmt.Sprintf("%s/task_status_%s/%s", c.BaseURL, kind, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return voxflow.TaskResult{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return voxflow.TaskResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return voxflow.TaskResult{}, fmt.Errorf("task %s: %w", id, voxflow.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return voxflow.TaskResult{}, fmt.Errorf("status %s: %s", id, readError(resp))
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return voxflow.TaskResult{}, fmt.Errorf("decode status response: %w", err)
	}
	res := voxflow.TaskResult{ID: id, Status: sr.Status}
	if sr.Result != nil {
		if sr.Status == voxflow.StatusFailure {
			res.Error = *sr.Result
		} else {
			res.Result = *sr.Result
		}
	}
	return res, nil
}

// GetAudio fetches a synthesized audio file by name.
func (c *Client) GetAudio(ctx context.Context, filename string) ([]byte, error) {
	u := fmt.Sprintf("%s/get_audio/%s", c.BaseURL, url.PathEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("audio %q: %w", filename, voxflow.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get audio %s: %s", filename, readError(resp))
	}
	return io.ReadAll(resp.Body)
}

func readError(resp *http.Response) string {
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		return fmt.Sprintf("%s (%s)", er.Error, resp.Status)
	}
	return resp.Status
}
