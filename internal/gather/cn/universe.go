package cn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SymbolSource supplies the ordered symbol universe of a run.
type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Universe reads the symbol list from a JSON cache file and falls back to
// a configured default list.
type Universe struct {
	CachePath string
	ListURL   string
	Defaults  []string

	http *http.Client
	log  *slog.Logger
}

// Compile-time interface check.
var _ SymbolSource = (*Universe)(nil)

// NewUniverse creates a Universe.
func NewUniverse(cachePath, listURL string, defaults []string) *Universe {
	return &Universe{
		CachePath: cachePath,
		ListURL:   listURL,
		Defaults:  defaults,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       slog.Default().With("component", "universe"),
	}
}

type universeCache struct {
	Symbols []string `json:"symbols"`
}

// Symbols returns the cached universe, upper-cased, or the defaults when the
// cache is absent, unreadable or empty. Order is preserved; duplicates are
// not removed.
func (u *Universe) Symbols(_ context.Context) ([]string, error) {
	symbols, err := u.readCache()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		u.log.Warn("reading universe cache failed, using defaults", "path", u.CachePath, "error", err)
	}
	if len(symbols) == 0 {
		symbols = u.Defaults
	}
	return upper(symbols), nil
}

func (u *Universe) readCache() ([]string, error) {
	data, err := os.ReadFile(u.CachePath)
	if err != nil {
		return nil, err
	}
	// Either {"symbols": [...]} or a bare list.
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped universeCache
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", u.CachePath, err)
	}
	return wrapped.Symbols, nil
}

type stockListPayload struct {
	Result struct {
		Data []struct {
			Symbol string `json:"symbol"`
			Code   string `json:"code"`
		} `json:"data"`
	} `json:"result"`
}

// Refresh pulls the public stock list, keeps Shanghai and Shenzhen codes and
// rewrites the cache. On any failure the defaults are cached instead.
func (u *Universe) Refresh(ctx context.Context) ([]string, error) {
	symbols, err := u.fetchList(ctx)
	if err != nil {
		u.log.Warn("fetching stock list failed, caching defaults", "error", err)
		symbols = upper(u.Defaults)
	} else {
		u.log.Info("stock list fetched", "symbols", len(symbols))
	}

	if err := os.MkdirAll(filepath.Dir(u.CachePath), 0o755); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(universeCache{Symbols: symbols}, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(u.CachePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing universe cache: %w", err)
	}
	return symbols, nil
}

func (u *Universe) fetchList(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.ListURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stock list: HTTP %d", resp.StatusCode)
	}

	var payload stockListPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding stock list: %w", err)
	}

	var symbols []string
	for _, item := range payload.Result.Data {
		raw := item.Symbol
		if raw == "" {
			raw = item.Code
		}
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if strings.HasPrefix(raw, "SH") || strings.HasPrefix(raw, "SZ") {
			symbols = append(symbols, raw)
		}
	}
	if len(symbols) == 0 {
		return nil, errors.New("stock list is empty")
	}
	return symbols, nil
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
