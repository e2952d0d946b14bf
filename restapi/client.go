package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultTimeout = 30 * time.Second

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.public.Timeout = timeout
		c.authed.Timeout = timeout
	}
}

// Client calls the portal's REST backend. Endpoints that need a bearer token go
// through an oauth2.Transport that reads the token source on every request.
type Client struct {
	baseURL string
	public  *http.Client
	authed  *http.Client
}

func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		public:  &http.Client{Timeout: defaultTimeout},
		authed: &http.Client{
			Timeout:   defaultTimeout,
			Transport: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// Login exchanges email and password for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*Tokens, error) {
	var tokens Tokens
	if err := c.do(ctx, c.public, "login", http.MethodPost, "/login", credentials{Email: email, Password: password}, &tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, fmt.Errorf("[restapi Login] response carried no tokens")
	}
	return &tokens, nil
}

func (c *Client) Signup(ctx context.Context, email, password string) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, c.public, "signup", http.MethodPost, "/signup", credentials{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) MagicLink(ctx context.Context, email string) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, c.public, "magic-link", http.MethodPost, "/magic-link", credentials{Email: email}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) ResetPassword(ctx context.Context, email string) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, c.public, "reset-password", http.MethodPost, "/reset-password", credentials{Email: email}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Me returns the identity behind the current access token. The backend wraps it as
// {"user": {...}}; a bare identity object is accepted too.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, c.authed, "me", http.MethodGet, "/me", nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		User *User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil && wrapped.User.ID != "" {
		return wrapped.User, nil
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil || user.ID == "" {
		return nil, fmt.Errorf("[restapi Me] response carried no user")
	}
	return &user, nil
}

// Logout ends the server side session for the current access token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, c.authed, "logout", http.MethodPost, "/logout", nil, nil)
}

// History lists a user's previous uploads. Both {"history": [...]} and a bare array are accepted.
func (c *Client) History(ctx context.Context, userID string) ([]HistoryEntry, error) {
	var raw json.RawMessage
	if err := c.do(ctx, c.public, "history", http.MethodGet, "/user-fmri-history/"+url.PathEscape(userID), nil, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var entries []HistoryEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("[restapi History] decoding response: %w", err)
		}
		return entries, nil
	}
	var wrapped struct {
		History []HistoryEntry `json:"history"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("[restapi History] decoding response: %w", err)
	}
	return wrapped.History, nil
}

func (c *Client) Slice2D(ctx context.Context, fmriID string, sliceIndex int) (*Slice2D, error) {
	var slice Slice2D
	path := fmt.Sprintf("/2d-fmri-data/%s/%d", url.PathEscape(fmriID), sliceIndex)
	if err := c.do(ctx, c.public, "2d-fmri-data", http.MethodGet, path, nil, &slice); err != nil {
		return nil, err
	}
	return &slice, nil
}

func (c *Client) Volume3D(ctx context.Context, fmriID string) (*VolumeFile, error) {
	var file VolumeFile
	if err := c.do(ctx, c.public, "3d-fmri-file", http.MethodGet, "/3d-fmri-file/"+url.PathEscape(fmriID)+"/", nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func (c *Client) ModelPrediction(ctx context.Context, fmriID string) (*Prediction, error) {
	var p Prediction
	if err := c.do(ctx, c.public, "model-prediction", http.MethodGet, "/model-prediction/"+url.PathEscape(fmriID)+"/", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteTempFiles removes the backend's scratch files for the results views.
func (c *Client) DeleteTempFiles(ctx context.Context) error {
	return c.do(ctx, c.public, "delete-temp-files", http.MethodDelete, "/delete-temp-files/", nil, nil)
}

// UploadRequest is one scan file plus the form fields sent with it.
type UploadRequest struct {
	UserID   string
	FileName string
	File     io.Reader
	Fields   map[string]string
}

// Upload sends a scan as multipart/form-data.
func (c *Client) Upload(ctx context.Context, upload UploadRequest) (*UploadResult, error) {
	if upload.File == nil || upload.FileName == "" {
		return nil, fmt.Errorf("[restapi Upload] no file")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if upload.UserID != "" {
		if err := w.WriteField("user_id", upload.UserID); err != nil {
			return nil, fmt.Errorf("[restapi Upload] writing form: %w", err)
		}
	}
	for k, v := range upload.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("[restapi Upload] writing form: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", upload.FileName)
	if err != nil {
		return nil, fmt.Errorf("[restapi Upload] writing form: %w", err)
	}
	if _, err := io.Copy(part, upload.File); err != nil {
		return nil, fmt.Errorf("[restapi Upload] copying file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("[restapi Upload] writing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("[restapi Upload] building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var result UploadResult
	if err := c.send(c.public, "upload", req, &result); err != nil {
		return nil, err
	}
	if result.FMRIID == "" {
		return nil, fmt.Errorf("[restapi Upload] response carried no fmri_id")
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("[restapi %s] encoding request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("[restapi %s] building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(client, op, req, out)
}

func (c *Client) send(client *http.Client, op string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("[restapi %s] %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("[restapi %s] reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := parseError(resp.StatusCode, data)
		log.Debug().Str("component", "restapi").Str("op", op).Int("status", resp.StatusCode).Msg(e.Error())
		return e
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("[restapi %s] decoding response: %w", op, err)
	}
	return nil
}

// ResolveURL turns a path returned by the backend, such as a volume file URL, into an absolute URL.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}
