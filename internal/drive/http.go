package drive

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"pdsync/internal/core"
)

// HTTPClient is a core.Client backed by Proton Drive's REST API. The wire
// protocol (SRP auth headers, block splitting, per-block encryption) is out
// of this repository's scope per spec.md §1 — AuthProvider is documented as
// an external collaborator and DriveClient as an opaque adapter. This type
// holds the base URL, HTTP client and bearer token and implements the
// capability surface as stubs: no endpoint is called, and every method
// returns an error identifying it as unimplemented.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewHTTPClient constructs a Proton Drive HTTP client authorized with token.
func NewHTTPClient(baseURL, authToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		authToken:  authToken,
	}
}

func (c *HTTPClient) GetRootFolder() (string, error) {
	return "", fmt.Errorf("drive: HTTPClient.GetRootFolder not implemented")
}

func (c *HTTPClient) IterateChildren(parentUID string) ([]core.ChildEntry, error) {
	return nil, fmt.Errorf("drive: HTTPClient.IterateChildren not implemented")
}

func (c *HTTPClient) CreateFolder(parentUID, name string, mtime int64) (string, error) {
	return "", fmt.Errorf("drive: HTTPClient.CreateFolder not implemented")
}

func (c *HTTPClient) UploadFile(parentUID, name string, meta core.UploadMeta, r io.Reader) (string, error) {
	return "", fmt.Errorf("drive: HTTPClient.UploadFile not implemented")
}

func (c *HTTPClient) UploadRevision(nodeUID string, meta core.UploadMeta, r io.Reader) (string, error) {
	return "", fmt.Errorf("drive: HTTPClient.UploadRevision not implemented")
}

func (c *HTTPClient) Relocate(nodeUID string, req core.RelocateRequest) error {
	return fmt.Errorf("drive: HTTPClient.Relocate not implemented")
}

func (c *HTTPClient) Trash(uids []string) ([]core.ItemResult, error) {
	return nil, fmt.Errorf("drive: HTTPClient.Trash not implemented")
}

func (c *HTTPClient) Delete(uids []string) ([]core.ItemResult, error) {
	return nil, fmt.Errorf("drive: HTTPClient.Delete not implemented")
}

var _ core.Client = (*HTTPClient)(nil)
