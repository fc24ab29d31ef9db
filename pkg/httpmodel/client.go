package httpmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

const DefaultURL = "http://localhost:8090"

// Client is a client.Model backed by a remote model server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	info types.ModelInfo
	mean *tensor.Tensor
}

var _ client.Model = (*Client)(nil)

// Load asks the server at serverURL to open the model at path on device and
// returns a client bound to it.
func Load(ctx context.Context, serverURL, path string, device types.Device) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}

	var resp LoadResponse
	if err := c.call(ctx, PathLoad, LoadRequest{Path: path, Device: string(device)}, &resp); err != nil {
		var loadErr *types.ModelLoadError
		var devErr *types.DeviceError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
			return nil, err
		}
		if errors.As(err, &devErr) {
			return nil, err
		}
		// unreachable server or garbled reply
		return nil, &types.ModelLoadError{Path: path, Err: err}
	}
	mean, err := decode(resp.MeanStyle)
	if err != nil || mean == nil {
		return nil, &types.ModelLoadError{Path: path, Err: fmt.Errorf("server returned no mean style")}
	}
	c.info = resp.Info
	c.mean = mean
	return c, nil
}

// Loader adapts Load to client.Loader for a fixed server.
func Loader(serverURL string) client.Loader {
	return func(ctx context.Context, path string, device types.Device) (client.Model, error) {
		return Load(ctx, serverURL, path, device)
	}
}

func (c *Client) Info() types.ModelInfo { return c.info }

func (c *Client) MeanStyle() *tensor.Tensor { return c.mean.Clone() }

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) StyleMap(ctx context.Context, exec types.Exec, latent *tensor.Tensor) (*tensor.Tensor, error) {
	var resp StyleResponse
	if err := c.call(ctx, PathStyle, StyleRequest{Exec: exec, Latent: encode(latent)}, &resp); err != nil {
		return nil, err
	}
	return decode(resp.Style)
}

func (c *Client) Estimate(ctx context.Context, exec types.Exec, style *tensor.Tensor) (*types.SceneBundle, error) {
	var resp EstimateResponse
	if err := c.call(ctx, PathEstimate, EstimateRequest{Exec: exec, Style: encode(style)}, &resp); err != nil {
		return nil, err
	}
	return decodeBundle(&resp)
}

func (c *Client) Render(ctx context.Context, exec types.Exec, in types.RenderInput) (*types.RenderOutput, error) {
	req := RenderRequest{
		Exec:         exec,
		Depth:        encode(in.Depth),
		Albedo:       encode(in.Albedo),
		Light:        encode(in.Light),
		View:         encode(in.View),
		TransformMap: encode(in.TransformMap),
	}
	var resp RenderResponse
	if err := c.call(ctx, PathRender, req, &resp); err != nil {
		return nil, err
	}
	frame, err := decode(resp.Frame)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, fmt.Errorf("render response has no frame")
	}
	out := &types.RenderOutput{Frame: frame}
	for _, a := range resp.Aux {
		t, err := decode(a)
		if err != nil {
			return nil, err
		}
		out.Aux = append(out.Aux, t)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, status, err := c.sendRequest(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(endpoint, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// statusError maps a non-200 reply onto the typed error kinds.
func statusError(endpoint string, status int, body []byte) error {
	var e ErrorResponse
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(body))
	}
	cause := fmt.Errorf("server returned status %d: %s", status, e.Error)

	switch {
	case status == http.StatusInsufficientStorage:
		return &types.DeviceError{Device: types.Device(e.Device), Op: strings.TrimPrefix(endpoint, "/v1/"), Err: fmt.Errorf("%w: %v", types.ErrOutOfMemory, cause)}
	case status == http.StatusServiceUnavailable || e.Kind == KindDevice:
		return &types.DeviceError{Device: types.Device(e.Device), Op: strings.TrimPrefix(endpoint, "/v1/"), Err: cause}
	case endpoint == PathLoad && (status == http.StatusNotFound || status == http.StatusUnprocessableEntity):
		return &types.ModelLoadError{Err: cause}
	default:
		return cause
	}
}
