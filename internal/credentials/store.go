// Package credentials persists commerce platform access tokens keyed by shop domain.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/pkg/logger"
)

// fileLocks serialises access per credential file across every Store in the process.
var fileLocks sync.Map

// Store keeps shop access tokens in a single JSON file. Tokens never expire.
type Store struct {
	path string
	mu   *sync.Mutex
	log  *zap.Logger
}

// NewStore returns a store backed by the JSON file at path. The file is created on first save.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credentials: file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: resolve path: %w", err)
	}

	lock, _ := fileLocks.LoadOrStore(abs, &sync.Mutex{})
	return &Store{
		path: abs,
		mu:   lock.(*sync.Mutex),
		log:  logger.WithModule("credentials"),
	}, nil
}

// Path returns the absolute location of the credential file.
func (s *Store) Path() string {
	return s.path
}

// Token returns the saved token for shop.
func (s *Store) Token(shop string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return "", false, err
	}
	token, ok := tokens[normaliseShop(shop)]
	return token, ok && token != "", nil
}

// SaveToken records token for shop, rewriting the whole file.
func (s *Store) SaveToken(shop, token string) error {
	shop = normaliseShop(shop)
	if shop == "" {
		return errors.New("credentials: shop domain is required")
	}
	if token == "" {
		return errors.New("credentials: token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return err
	}
	tokens[shop] = token

	if err := s.persist(tokens); err != nil {
		return err
	}

	s.log.Info("access token saved", zap.String("shop", shop), zap.String("token", Mask(token)))
	return nil
}

// Shops lists the domains that currently hold a token, sorted.
func (s *Store) Shops() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return nil, err
	}
	shops := make([]string, 0, len(tokens))
	for shop := range tokens {
		shops = append(shops, shop)
	}
	slices.Sort(shops)
	return shops, nil
}

func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", s.path, err)
	}

	tokens := map[string]string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return tokens, nil
	}
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("credentials: decode %s: %w", s.path, err)
	}
	return tokens, nil
}

func (s *Store) persist(tokens map[string]string) error {
	payload, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("credentials: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("credentials: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credentials: write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credentials: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credentials: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("credentials: replace %s: %w", s.path, err)
	}
	return nil
}

func normaliseShop(shop string) string {
	return strings.ToLower(strings.TrimSpace(shop))
}

// Mask hides all but the last four characters of a secret for logging.
func Mask(secret string) string {
	const visible = 4
	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-visible) + secret[len(secret)-visible:]
}
