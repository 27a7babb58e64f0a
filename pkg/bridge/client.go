package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is the typed RPC surface spec section 4.3 asks the rest of
// the host to see in place of a raw HTTP client: three calls, each
// with its own deadline, talking JSON to the worker's local port.
type client struct {
	http *http.Client
	base string
}

func newClient(port int) *client {
	return &client{
		http: &http.Client{},
		base: fmt.Sprintf("http://127.0.0.1:%d", port),
	}
}

// GenerationResult carries the bytes and opaque metadata a generation
// stage produced.
type GenerationResult struct {
	ImageBytes []byte
	MeshBytes  []byte
	Metadata   map[string]any
}

type imageRequestBody struct {
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

type meshRequestBody struct {
	ImageData string         `json:"image_data"`
	Options   map[string]any `json:"options,omitempty"`
}

type rpcResponseBody struct {
	ImageData string         `json:"image_data,omitempty"`
	MeshData  string         `json:"mesh_data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// GenerateImage runs the prompt-to-image stage, deadlined by ctx.
func (c *client) GenerateImage(ctx context.Context, prompt string, options map[string]any) (*GenerationResult, error) {
	body, err := json.Marshal(imageRequestBody{Prompt: prompt, Options: options})
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding image request: %w", err)
	}
	resp, err := c.post(ctx, "/generate/image", body)
	if err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(resp.ImageData)
	if err != nil {
		return nil, fmt.Errorf("bridge: decoding image response: %w", err)
	}
	return &GenerationResult{ImageBytes: img, Metadata: resp.Metadata}, nil
}

// GenerateMesh runs the image-to-mesh stage, deadlined by ctx.
func (c *client) GenerateMesh(ctx context.Context, imageData []byte, options map[string]any) (*GenerationResult, error) {
	body, err := json.Marshal(meshRequestBody{
		ImageData: base64.StdEncoding.EncodeToString(imageData),
		Options:   options,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding mesh request: %w", err)
	}
	resp, err := c.post(ctx, "/generate/mesh", body)
	if err != nil {
		return nil, err
	}
	mesh, err := base64.StdEncoding.DecodeString(resp.MeshData)
	if err != nil {
		return nil, fmt.Errorf("bridge: decoding mesh response: %w", err)
	}
	return &GenerationResult{MeshBytes: mesh, Metadata: resp.Metadata}, nil
}

// GenerateFull runs both stages as one worker-side unit, deadlined by ctx.
func (c *client) GenerateFull(ctx context.Context, prompt string, options map[string]any) (*GenerationResult, error) {
	body, err := json.Marshal(imageRequestBody{Prompt: prompt, Options: options})
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding full request: %w", err)
	}
	resp, err := c.post(ctx, "/generate/full", body)
	if err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(resp.ImageData)
	if err != nil {
		return nil, fmt.Errorf("bridge: decoding full-pipeline image response: %w", err)
	}
	mesh, err := base64.StdEncoding.DecodeString(resp.MeshData)
	if err != nil {
		return nil, fmt.Errorf("bridge: decoding full-pipeline mesh response: %w", err)
	}
	return &GenerationResult{ImageBytes: img, MeshBytes: mesh, Metadata: resp.Metadata}, nil
}

func (c *client) post(ctx context.Context, path string, body []byte) (*rpcResponseBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bridge: building request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("bridge: %s timed out after %s: %w", path, time.Since(start), ctx.Err())
		}
		return nil, fmt.Errorf("bridge: calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bridge: reading %s response: %w", path, err)
	}

	var out rpcResponseBody
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("bridge: decoding %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("worker returned HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("bridge: %s: %s", path, msg)
	}
	return &out, nil
}
