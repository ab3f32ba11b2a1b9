package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/config"
)

// ReferenceScheme prefixes every detail reference written by LocalStore
const ReferenceScheme = "file://"

// DefaultMaxDetailedExposures caps the exposures written per batch
const DefaultMaxDetailedExposures = 10000

// ErrPathTraversal is returned when a base path or reference escapes the store
var ErrPathTraversal = errors.New("storage path contains path traversal")

// Details is the cold-storage document of one batch
type Details struct {
	BatchID          string                          `json:"batch_id"`
	BankID           string                          `json:"bank_id"`
	TotalExposures   int                             `json:"total_exposures"`
	ValidExposures   int                             `json:"valid_exposures"`
	InvalidExposures int                             `json:"invalid_exposures"`
	TotalErrors      int                             `json:"total_errors"`
	DimensionScores  map[contracts.Dimension]float64 `json:"dimension_scores"`
	ExposureResults  []contracts.ExposureResult      `json:"exposure_results"`
	BatchErrors      []contracts.ValidationError     `json:"batch_errors"`
	Truncated        bool                            `json:"truncated"`
	StoredAt         time.Time                       `json:"stored_at"`
}

// LocalStore writes batch details as JSON files under a base directory
type LocalStore struct {
	basePath     string
	maxExposures int
	now          func() time.Time
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(basePath string, maxExposures int) (*LocalStore, error) {
	if err := validatePath(basePath); err != nil {
		return nil, err
	}
	if maxExposures <= 0 {
		maxExposures = DefaultMaxDetailedExposures
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{basePath: abs, maxExposures: maxExposures, now: time.Now}, nil
}

// New builds the configured detail store
func New(cfg config.StorageConfig, maxExposures int) (*LocalStore, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStore(cfg.BasePath, maxExposures)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// StoreDetails writes the first maxExposures exposure results and returns a file:// reference.
// The write is atomic: temp file in the same directory, then rename.
func (s *LocalStore) StoreDetails(ctx context.Context, result *contracts.ValidationResult) (string, error) {
	if result == nil || strings.TrimSpace(result.BatchID) == "" {
		return "", fmt.Errorf("%w: result with batch id is required", contracts.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	exposures := result.ExposureResults
	truncated := false
	if len(exposures) > s.maxExposures {
		exposures = exposures[:s.maxExposures]
		truncated = true
	}

	doc := Details{
		BatchID:          result.BatchID,
		BankID:           result.BankID,
		TotalExposures:   result.TotalExposures,
		ValidExposures:   result.ValidExposures,
		InvalidExposures: result.InvalidExposures,
		TotalErrors:      result.TotalErrors(),
		DimensionScores:  result.DimensionScores,
		ExposureResults:  exposures,
		BatchErrors:      result.BatchErrors,
		Truncated:        truncated,
		StoredAt:         s.now().UTC(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}

	dir := filepath.Join(s.basePath, safeName(result.BankID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create bank directory: %w", err)
	}
	target := filepath.Join(dir, safeName(result.BatchID)+".json")

	tmp, err := os.CreateTemp(dir, ".details-*.json.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write details: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync details: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close details: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("rename details: %w", err)
	}
	tmpName = ""

	return ReferenceScheme + target, nil
}

// Load reads a document previously written by StoreDetails
func (s *LocalStore) Load(_ context.Context, reference string) (*Details, error) {
	path, ok := strings.CutPrefix(reference, ReferenceScheme)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported reference %q", contracts.ErrInvalidInput, reference)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, ErrPathTraversal
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read details: %w", err)
	}

	var doc Details
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return &doc, nil
}

// validatePath rejects ".." components
func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("storage base path is required")
	}
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if part == ".." {
			return ErrPathTraversal
		}
	}
	return nil
}

var (
	unsafeChars  = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	hashedSuffix = regexp.MustCompile(`-[0-9a-f]{12}$`)
)

// safeName maps an identifier to a single path segment.
// When the identifier had to be rewritten, a digest of the original is appended
// so that "A/B" and "A_B" never share a file.
func safeName(id string) string {
	name := unsafeChars.ReplaceAllString(strings.TrimSpace(id), "_")
	name = strings.Trim(name, ".")
	if name != "" && name == id && !hashedSuffix.MatchString(name) {
		return name
	}
	if name == "" {
		name = "_"
	}
	sum := sha256.Sum256([]byte(id))
	return name + "-" + hex.EncodeToString(sum[:6])
}
