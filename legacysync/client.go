package legacysync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/custodia-platform/absences_backend/utils"
)

// SubjectIdentity is the registry's summary of one subject: enough to
// confirm the subject exists and where they are held before any mutation
// begins.
type SubjectIdentity struct {
	SubjectId string `json:"subjectId"`
	PrisonId  string `json:"prisonId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Active    bool   `json:"active"`
}

// IdentityClient is the one external collaborator of the reconciliation
// engine, called once per operation before mutation starts.
type IdentityClient interface {
	GetSubjectIdentity(ctx context.Context, subjectId string) (*SubjectIdentity, error)
}

var (
	identityClientOverride IdentityClient
	identityClientOnce     sync.Once
	identityClientDefault  IdentityClient
)

// SnapshotClient fetches a subject's full absence state from the legacy
// feed; the push handler uses it to turn a change notification into a
// merge.
type SnapshotClient interface {
	GetAbsenceSnapshot(ctx context.Context, subjectId string) (*AbsenceSnapshot, error)
}

var snapshotClientOverride SnapshotClient

// SetIdentityClient swaps the registry client; tests use this.
func SetIdentityClient(c IdentityClient) {
	identityClientOverride = c
}

// SetSnapshotClient swaps the legacy feed client; tests use this.
func SetSnapshotClient(c SnapshotClient) {
	snapshotClientOverride = c
}

func snapshotClient() SnapshotClient {
	if snapshotClientOverride != nil {
		return snapshotClientOverride
	}
	identityClientOnce.Do(func() {
		identityClientDefault = newRegistryClient()
	})
	return identityClientDefault.(*registryClient)
}

func identityClient() IdentityClient {
	if identityClientOverride != nil {
		return identityClientOverride
	}
	identityClientOnce.Do(func() {
		identityClientDefault = newRegistryClient()
	})
	return identityClientDefault
}

type registryClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newRegistryClient() *registryClient {
	baseURL := strings.TrimSpace(os.Getenv("SUBJECT_REGISTRY_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://subject-registry"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("SUBJECT_REGISTRY_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := int64(600)
	if v := strings.TrimSpace(os.Getenv("SUBJECT_REGISTRY_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &registryClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    strings.TrimSpace(os.Getenv("SUBJECT_REGISTRY_API_KEY")),
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}
}

func (c *registryClient) GetSubjectIdentity(ctx context.Context, subjectId string) (*SubjectIdentity, error) {
	<-c.limiter
	endpoint := c.baseURL + "/api/subjects/" + subjectId
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, utils.ErrNotFound("subject %s not known to the registry", subjectId)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("subject registry error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var identity SubjectIdentity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (c *registryClient) GetAbsenceSnapshot(ctx context.Context, subjectId string) (*AbsenceSnapshot, error) {
	<-c.limiter
	endpoint := c.baseURL + "/api/subjects/" + subjectId + "/absences"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, utils.ErrNotFound("subject %s not known to the registry", subjectId)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("subject registry error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var snapshot AbsenceSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
