// Package update checks GitHub for a newer strata release.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	// ReleasesURL is the GitHub API endpoint for the latest release.
	ReleasesURL = "https://api.github.com/repos/pthm/strata/releases/latest"

	cacheTTL  = 24 * time.Hour
	cacheFile = "update-check.json"
)

// Info contains update check results
type Info struct {
	LatestVersion   string    `json:"latest_version"`
	CurrentVersion  string    `json:"current_version"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
	UpdateAvailable bool      `json:"update_available"`
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker fetches the latest release and caches the answer for a day.
type Checker struct {
	URL      string
	Client   *http.Client
	Fs       afero.Fs
	CacheDir string
	Now      func() time.Time
}

// NewChecker returns a Checker against GitHub that caches under the user
// cache directory.
func NewChecker() (*Checker, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	return &Checker{
		URL:      ReleasesURL,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Fs:       afero.NewOsFs(),
		CacheDir: dir,
		Now:      time.Now,
	}, nil
}

// Check reports whether a release newer than current exists, using the
// cache when it is fresh.
func (c *Checker) Check(ctx context.Context, current string) (*Info, error) {
	if info, err := c.loadCache(); err == nil && c.Now().Sub(info.CheckedAt) < cacheTTL {
		info.CurrentVersion = current
		info.UpdateAvailable = compareVersions(current, info.LatestVersion) < 0
		return info, nil
	}

	info, err := c.fetch(ctx, current)
	if err != nil {
		return nil, err
	}
	_ = c.saveCache(info)
	return info, nil
}

func (c *Checker) fetch(ctx context.Context, current string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "strata/"+current)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	return &Info{
		LatestVersion:   latest,
		CurrentVersion:  current,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       c.Now(),
		UpdateAvailable: compareVersions(current, latest) < 0,
	}, nil
}

// cacheDir honours XDG_CACHE_HOME, falling back to ~/.cache.
func cacheDir() (string, error) {
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cacheHome = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheHome, "strata"), nil
}

func (c *Checker) loadCache() (*Info, error) {
	data, err := afero.ReadFile(c.Fs, filepath.Join(c.CacheDir, cacheFile))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Checker) saveCache(info *Info) error {
	if err := c.Fs.MkdirAll(c.CacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(c.Fs, filepath.Join(c.CacheDir, cacheFile), data, 0o644)
}

// compareVersions compares two dotted versions, ignoring pre-release
// suffixes. Returns -1 if a < b, 0 if a == b, 1 if a > b. "dev" sorts last.
func compareVersions(a, b string) int {
	a = strings.TrimPrefix(a, "v")
	b = strings.TrimPrefix(b, "v")

	if a == "dev" {
		return 1
	}
	if b == "dev" {
		return -1
	}

	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")
	for i := 0; i < len(partsA) || i < len(partsB); i++ {
		numA, numB := versionPart(partsA, i), versionPart(partsB, i)
		if numA != numB {
			if numA < numB {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	base, _, _ := strings.Cut(parts[i], "-")
	n, _ := strconv.Atoi(base)
	return n
}
