package license

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// remoteTimeout bounds how long a single validation call may block
// startup or a scheduled revalidation.
const remoteTimeout = 10 * time.Second

// RemoteValidator checks a license key against the configured
// validation endpoint over HTTPS. It is the production Validator;
// tests supply their own stub instead of standing up a server.
type RemoteValidator struct {
	url    string
	client *http.Client
}

// NewRemoteValidator builds a Validator that posts to url.
func NewRemoteValidator(url string) *RemoteValidator {
	return &RemoteValidator{
		url: url,
		client: &http.Client{
			Timeout: remoteTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type validateRequest struct {
	LicenseKey string `json:"licenseKey"`
}

type validateResponse struct {
	Tier          models.LicenseTier `json:"tier"`
	AgentLimit    *int                `json:"agentLimit"`
	RetentionDays int                 `json:"retentionDays"`
	Valid         bool                `json:"valid"`
	ExpiresAt     *time.Time          `json:"expiresAt"`
}

// Validate posts licenseKey to the remote authority and maps its
// decision onto a LicenseCache row ready to persist.
func (r *RemoteValidator) Validate(licenseKey string) (*models.LicenseCache, error) {
	body, err := json.Marshal(validateRequest{LicenseKey: licenseKey})
	if err != nil {
		return nil, fmt.Errorf("encode validation request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach license validator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("license validator returned %d: %s", resp.StatusCode, respBody)
	}

	var decoded validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode validation response: %w", err)
	}

	now := time.Now()
	return &models.LicenseCache{
		ID:              "current",
		LicenseKey:      licenseKey,
		Tier:            decoded.Tier,
		AgentLimit:      decoded.AgentLimit,
		RetentionDays:   decoded.RetentionDays,
		Valid:           decoded.Valid,
		LastValidatedAt: now,
		ExpiresAt:       decoded.ExpiresAt,
		UpdatedAt:       now,
	}, nil
}
