package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/matterclaw/matterclaw/pkg/config"
	"github.com/matterclaw/matterclaw/pkg/logger"
)

// Client talks to the Mattermost REST API. One instance is shared by all
// dispatcher tasks; after Login the token is only read, so concurrent use
// is safe.
type Client struct {
	httpClient *http.Client
	baseURL    string
	wsURL      string
	cfg        config.MattermostConfig

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.MattermostConfig, httpClient *http.Client) *Client {
	scheme := strings.ToLower(strings.TrimSpace(cfg.Scheme))
	wsScheme := "wss"
	if scheme == "http" {
		wsScheme = "ws"
	}
	host := fmt.Sprintf("%s:%d", cfg.ServerURL, cfg.Port)

	return &Client{
		httpClient: httpClient,
		baseURL:    fmt.Sprintf("%s://%s/api/v4", scheme, host),
		wsURL:      fmt.Sprintf("%s://%s/api/v4/websocket", wsScheme, host),
		cfg:        cfg,
		token:      cfg.AccessToken,
	}
}

// Login establishes the session. With a configured access token this only
// verifies it; otherwise it exchanges login_id and password for a session
// token.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.AccessToken != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("verify token: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("token rejected with status %d", resp.StatusCode)
		}
		logger.InfoC("platform", "Authenticated with access token")
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"login_id": c.cfg.LoginID,
		"password": c.cfg.Password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	token := resp.Header.Get("Token")
	if token == "" {
		return fmt.Errorf("login response carried no session token")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	logger.InfoCF("platform", "Logged in", map[string]interface{}{
		"login_id": c.cfg.LoginID,
	})
	return nil
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SendMessage creates a post in channelID, threaded under rootID when set.
func (c *Client) SendMessage(ctx context.Context, channelID, message, rootID string) error {
	return c.createPost(ctx, channelID, message, rootID, nil)
}

// SendFile uploads the local file and creates a post referencing it. The
// caller owns deleting the local file afterward.
func (c *Client) SendFile(ctx context.Context, channelID, caption, path, rootID string) error {
	fileID, err := c.uploadFile(ctx, channelID, path)
	if err != nil {
		return err
	}
	return c.createPost(ctx, channelID, caption, rootID, []string{fileID})
}

func (c *Client) createPost(ctx context.Context, channelID, message, rootID string, fileIDs []string) error {
	token := c.sessionToken()
	if token == "" {
		return fmt.Errorf("session is not authenticated")
	}

	body := map[string]interface{}{
		"channel_id": channelID,
		"message":    message,
	}
	if rootID != "" {
		body["root_id"] = rootID
	}
	if len(fileIDs) > 0 {
		body["file_ids"] = fileIDs
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/posts", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create post failed with status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return nil
}

func (c *Client) uploadFile(ctx context.Context, channelID, path string) (string, error) {
	token := c.sessionToken()
	if token == "" {
		return "", fmt.Errorf("session is not authenticated")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read upload file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("channel_id", channelID); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result struct {
		FileInfos []struct {
			ID string `json:"id"`
		} `json:"file_infos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if len(result.FileInfos) == 0 {
		return "", fmt.Errorf("upload response carried no file infos")
	}
	return result.FileInfos[0].ID, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
