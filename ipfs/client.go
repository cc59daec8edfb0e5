package ipfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client pins artifacts through the Pinata pinning API. Without API
// credentials it degrades to deterministic mock hashes so development
// and tests run without network access.
type Client struct {
	apiKey     string
	secret     string
	baseURL    string
	gatewayURL string
	client     *http.Client
}

// NewClient builds a Client with explicit credentials. Empty
// credentials put the client in mock mode.
func NewClient(apiKey, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		secret:     secret,
		baseURL:    "https://api.pinata.cloud",
		gatewayURL: "https://gateway.pinata.cloud/ipfs",
		client:     &http.Client{Timeout: timeout},
	}
}

// NewClientFromEnv builds a Client from PINATA_API_KEY and
// PINATA_SECRET.
func NewClientFromEnv() *Client {
	timeout := 120 * time.Second
	if raw := os.Getenv("IPFS_HTTP_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			timeout = time.Duration(v) * time.Second
		}
	}
	return NewClient(os.Getenv("PINATA_API_KEY"), os.Getenv("PINATA_SECRET"), timeout)
}

func (c *Client) configured() bool {
	return c.apiKey != "" && c.secret != ""
}

// MockHash is the deterministic stand-in CID used when no pinning
// credentials are configured.
func MockHash(content []byte) string {
	sum := sha256.Sum256(content)
	return "Qm" + hex.EncodeToString(sum[:])[:44]
}

// PinFile pins raw file content and returns its CID.
func (c *Client) PinFile(ctx context.Context, content []byte, filename string) (string, error) {
	if !c.configured() {
		return MockHash(content), nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.auth(req)

	return c.doPin(req)
}

// PinJSON pins a JSON document and returns its CID. Keys are sorted
// before the unconfigured fallback hash so the same document always
// maps to the same CID.
func (c *Client) PinJSON(ctx context.Context, data map[string]any, name string) (string, error) {
	if !c.configured() {
		return MockHash(canonicalJSON(data)), nil
	}
	if name == "" {
		name = "flow-artifact"
	}

	payload, err := json.Marshal(map[string]any{
		"pinataContent": data,
		"pinataMetadata": map[string]any{
			"name": name,
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	return c.doPin(req)
}

// GetFile fetches content from the gateway by CID.
func (c *Client) GetFile(ctx context.Context, ipfsHash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GatewayURL(ipfsHash), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipfs gateway: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// GatewayURL returns the public gateway URL for a CID.
func (c *Client) GatewayURL(ipfsHash string) string {
	return c.gatewayURL + "/" + ipfsHash
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.secret)
}

func (c *Client) doPin(req *http.Request) (string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("pinata pin failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata pin returned empty hash")
	}
	return out.IpfsHash, nil
}

// canonicalJSON renders a map with sorted keys.
func canonicalJSON(data map[string]any) []byte {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		vb, _ := json.Marshal(data[k])
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
