package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	adminmodels "lagerkoll/internal/admin/models"
	"lagerkoll/internal/realtime"
	"lagerkoll/pkg/platform/httputil"
)

// APIError is a non-2xx response decoded from the JSON error envelope.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = http.StatusText(e.Status)
	}
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.Status, code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, code, e.Description)
}

// API calls the REST surface with a bearer token.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// WithToken returns a copy of the API authenticated as token.
func (a *API) WithToken(token string) *API {
	cp := *a
	cp.token = token
	return &cp
}

// Token is the bearer token in use.
func (a *API) Token() string { return a.token }

// LoginResponse mirrors the /api/auth/login response.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

func (a *API) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	var out LoginResponse
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJSON GETs path and decodes the body into out.
func (a *API) GetJSON(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodGet, path, "", nil, out)
}

// Fetcher returns a cache fetcher for key. Keys are collection paths, so the
// raw JSON of GET key is the cached value.
func (a *API) Fetcher(key realtime.CacheKey) Fetcher {
	return func(ctx context.Context) (any, error) {
		var raw json.RawMessage
		if err := a.GetJSON(ctx, string(key), &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}
}

// Import uploads an xlsx workbook for resource.
func (a *API) Import(ctx context.Context, resource adminmodels.Resource, filename string, r io.Reader) (*adminmodels.ImportResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var out adminmodels.ImportResult
	if err := a.do(ctx, http.MethodPost, "/api/admin/import/"+string(resource), mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export downloads the workbook for resource into w.
func (a *API) Export(ctx context.Context, resource adminmodels.Resource, w io.Writer) error {
	return a.do(ctx, http.MethodGet, "/api/admin/export/"+string(resource), "", nil, w)
}

// do sends one request. out may be an io.Writer, which receives the raw
// body, or any JSON target.
func (a *API) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env httputil.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&env) == nil {
			apiErr.Code, apiErr.Description = env.Error, env.ErrorDescription
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err = io.Copy(dst, resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}
}
