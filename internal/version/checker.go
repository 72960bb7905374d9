// Package version reports the build version and looks for newer releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time with -ldflags "-X .../version.Version=..."
var Version = "0.1.0-dev"

const (
	// ReleasesURL is the latest release endpoint of the project
	ReleasesURL  = "https://api.github.com/repos/studiowebux/swarm/releases/latest"
	checkTimeout = 5 * time.Second
)

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Update is the result of a release check
type Update struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	URL       string `json:"url"`
	Available bool   `json:"available"`
}

// Checker queries a GitHub style releases endpoint
type Checker struct {
	URL    string
	Client *http.Client
}

// NewChecker returns a checker for the project's releases
func NewChecker() *Checker {
	return &Checker{
		URL:    ReleasesURL,
		Client: &http.Client{Timeout: checkTimeout},
	}
}

// Check compares current against the latest published release
func (c *Checker) Check(ctx context.Context, current string) (Update, error) {
	update := Update{Current: strings.TrimPrefix(current, "v")}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return update, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "swarm/"+update.Current)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return update, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return update, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return update, fmt.Errorf("failed to decode response: %w", err)
	}

	update.Latest = strings.TrimPrefix(rel.TagName, "v")
	update.URL = rel.HTMLURL
	update.Available = update.Latest != "" && Compare(update.Latest, update.Current) > 0
	return update, nil
}

// Compare orders two dotted versions numerically, ignoring pre-release and
// build suffixes. Missing parts count as zero.
func Compare(a, b string) int {
	pa, pb := parse(a), parse(b)
	for len(pa) < len(pb) {
		pa = append(pa, 0)
	}
	for len(pb) < len(pa) {
		pb = append(pb, 0)
	}

	for i := range pa {
		switch {
		case pa[i] > pb[i]:
			return 1
		case pa[i] < pb[i]:
			return -1
		}
	}
	return 0
}

func parse(v string) []int {
	v = strings.TrimPrefix(v, "v")
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}

	var parts []int
	for _, part := range strings.Split(v, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	return parts
}
