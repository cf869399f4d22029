package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kanghyki/badang-post-office/pkg/config"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

// Client calls the translation, style-transfer and rendering collaborators
// over HTTP. It satisfies the pipeline's Translator, Stylizer and Renderer
// interfaces.
type Client struct {
	http         *http.Client
	translateURL string
	stylizeURL   string
	renderURL    string
}

func NewClient(cfg config.CollabConfig) *Client {
	return &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		translateURL: cfg.TranslateURL,
		stylizeURL:   cfg.StylizeURL,
		renderURL:    cfg.RenderURL,
	}
}

type translateRequest struct {
	Text string `json:"text"`
}

type translateResponse struct {
	Translated string `json:"translated"`
}

func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if c.translateURL == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "translation collaborator not configured")
	}
	var out translateResponse
	if err := c.postJSON(ctx, c.translateURL, translateRequest{Text: text}, &out); err != nil {
		return "", err
	}
	if out.Translated == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "translation collaborator returned empty text")
	}
	return out.Translated, nil
}

type stylizeRequest struct {
	Photo    string `json:"photo"`
	SizeHint string `json:"size_hint"`
}

type stylizeResponse struct {
	Photo string `json:"photo"`
}

func (c *Client) Stylize(ctx context.Context, photo []byte, sizeHint string) ([]byte, error) {
	if c.stylizeURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "style-transfer collaborator not configured")
	}
	req := stylizeRequest{
		Photo:    base64.StdEncoding.EncodeToString(photo),
		SizeHint: sizeHint,
	}
	var out stylizeResponse
	if err := c.postJSON(ctx, c.stylizeURL, req, &out); err != nil {
		return nil, err
	}
	styled, err := base64.StdEncoding.DecodeString(out.Photo)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "style-transfer collaborator returned invalid photo")
	}
	return styled, nil
}

type renderRequest struct {
	TemplateID string            `json:"template_id"`
	Texts      map[string]string `json:"texts"`
	Photos     map[string]string `json:"photos"`
}

func (c *Client) Render(ctx context.Context, templateID string, texts map[string]string, photos map[string][]byte) ([]byte, error) {
	if c.renderURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "render collaborator not configured")
	}
	req := renderRequest{
		TemplateID: templateID,
		Texts:      texts,
		Photos:     map[string]string{},
	}
	for name, blob := range photos {
		req.Photos[name] = base64.StdEncoding.EncodeToString(blob)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode render request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.renderURL, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to build render request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "render collaborator unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("render collaborator returned status %d", resp.StatusCode))
	}
	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to read rendered image")
	}
	if len(image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "render collaborator returned empty image")
	}
	return image, nil
}

func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode collaborator request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to build collaborator request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "collaborator unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("collaborator returned status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to decode collaborator response")
	}
	return nil
}
