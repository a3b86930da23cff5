// Package discovery looks up the Safe accounts an owner controls through the
// Safe Transaction Service.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yolodolo42/safesign/internal/logging"
)

var (
	ErrInvalidAddress             = errors.New("invalid address")
	ErrDiscoveryUnavailable       = errors.New("safe discovery unavailable")
	ErrDiscoveryMalformedResponse = errors.New("malformed safe discovery response")
	// ErrResponseTooLarge is wrapped together with ErrDiscoveryUnavailable.
	ErrResponseTooLarge = errors.New("response too large")
)

// DefaultTimeout bounds a single registry request.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a registry response is read.
const maxBodyBytes = 1 << 20

// Discoverer returns the Safe accounts controlled by owner, in registry order.
type Discoverer interface {
	DiscoverAccounts(ctx context.Context, owner string) ([]common.Address, error)
}

// Service is a stateless client for the owners endpoint of the Safe
// Transaction Service. Every call re-queries the registry in full.
type Service struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithTimeout bounds each DiscoverAccounts call; zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger attaches a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a discovery client for the given service base URL,
// e.g. https://safe-transaction-gnosis-chain.safe.global
func NewService(baseURL string, opts ...Option) (*Service, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("safe service URL is required")
	}

	s := &Service{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("discovery")
	return s, nil
}

// OwnersURL returns the registry URL queried for owner
func (s *Service) OwnersURL(owner common.Address) string {
	return fmt.Sprintf("%s/api/v1/owners/%s/safes/", s.baseURL, owner.Hex())
}

// DiscoverAccounts validates owner, queries the registry and returns the Safe
// addresses it reports. An empty result is not an error.
func (s *Service) DiscoverAccounts(ctx context.Context, owner string) ([]common.Address, error) {
	addr, err := ParseAddress(owner)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	url := s.OwnersURL(addr)
	s.logger.Debug("querying safe registry", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrDiscoveryUnavailable, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: %w (limit %d bytes)", ErrDiscoveryUnavailable, ErrResponseTooLarge, maxBodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Debug("safe registry error", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: status %d", ErrDiscoveryUnavailable, resp.StatusCode)
	}

	safes, err := parseOwnerSafes(body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("safe registry answered", zap.String("owner", addr.Hex()), zap.Int("safes", len(safes)))
	return safes, nil
}

type ownerSafesResponse struct {
	Safes *[]string `json:"safes"`
}

func parseOwnerSafes(body []byte) ([]common.Address, error) {
	var parsed ownerSafesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryMalformedResponse, err)
	}
	if parsed.Safes == nil {
		return nil, fmt.Errorf("%w: missing \"safes\"", ErrDiscoveryMalformedResponse)
	}

	out := make([]common.Address, 0, len(*parsed.Safes))
	for _, raw := range *parsed.Safes {
		addr, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDiscoveryMalformedResponse, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// ParseAddress validates a 20-byte hex address. All-lower or all-upper input
// is accepted as is; mixed-case input must carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		mixed, err := common.NewMixedcaseAddressFromString("0x" + hexPart)
		if err != nil || !mixed.ValidChecksum() {
			return common.Address{}, fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
		}
	}
	return common.HexToAddress(hexPart), nil
}
