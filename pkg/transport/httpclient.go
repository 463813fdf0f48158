package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cuemby/manifold/pkg/security"
	"github.com/cuemby/manifold/pkg/types"
)

// HTTPClient implements RemoteStore by talking to a peer's Server over
// mTLS HTTP/JSON. Grounded on pkg/client/client.go's connectWithMTLS
// shape, rebuilt on *http.Client instead of a grpc.ClientConn.
type HTTPClient struct {
	BaseURL string
	http    *http.Client
}

// NewHTTPClient dials baseURL (e.g. "https://node-2:8443") using the
// mTLS client certificate and CA under certDir.
func NewHTTPClient(baseURL, certDir string) (*HTTPClient, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("transport: load client certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("transport: load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return &HTTPClient{
		BaseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*cert},
					RootCAs:      pool,
					MinVersion:   tls.VersionTLS13,
				},
			},
		},
	}, nil
}

func (c *HTTPClient) ListRefs(ctx context.Context) (map[types.RefName]types.ObjectId, error) {
	var resp refsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/refs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Refs, nil
}

func (c *HTTPClient) FetchObject(ctx context.Context, oid types.ObjectId) (ObjectKind, []byte, error) {
	var resp objectWire
	if err := c.doJSON(ctx, http.MethodGet, "/v1/objects/"+string(oid), nil, &resp); err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return "", nil, fmt.Errorf("transport: decode object %s: %w", oid, err)
	}
	return resp.Kind, data, nil
}

func (c *HTTPClient) HasObject(ctx context.Context, oid types.ObjectId) (bool, error) {
	_, _, err := c.FetchObject(ctx, oid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errObjectNotFound) {
		return false, nil
	}
	return false, err
}

func (c *HTTPClient) PushRef(ctx context.Context, name types.RefName, old, new types.ObjectId) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/refs/cas", casRequest{Name: name, Old: old, New: new}, nil)
}

func (c *HTTPClient) PushObject(ctx context.Context, kind ObjectKind, oid types.ObjectId, data []byte) error {
	req := objectWire{Kind: kind, Data: base64.StdEncoding.EncodeToString(data)}
	return c.doJSON(ctx, http.MethodPost, "/v1/objects", req, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errObjectNotFound
	}
	if resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("transport: %s %s: %s (status %d)", method, path, errResp.Error, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
