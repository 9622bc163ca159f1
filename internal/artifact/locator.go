// Package artifact talks to the build server: it resolves which archive a
// finished build produced and streams it to local disk.
package artifact

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"redeploy/internal/deployerr"
)

const (
	// ResultSuccess is the only build result that gets deployed
	ResultSuccess = "SUCCESS"

	// ArchiveExtension is the only artifact type that gets deployed
	ArchiveExtension = ".tar.gz"

	// maxMetadataBytes caps the build metadata response
	maxMetadataBytes = 4 << 20
)

// Artifact is one entry of a build's artifact list
type Artifact struct {
	DisplayPath  string `json:"displayPath"`
	FileName     string `json:"fileName"`
	RelativePath string `json:"relativePath"`
}

// BuildMetadata is the subset of the build server's build JSON we rely on
type BuildMetadata struct {
	Number    int        `json:"number"`
	Result    string     `json:"result"`
	Building  bool       `json:"building"`
	Artifacts []Artifact `json:"artifacts"`
}

// Descriptor says where to download an artifact and what to call it locally
type Descriptor struct {
	URL      string
	Filename string
}

// Locator resolves the download URL of a build's single archive artifact.
type Locator struct {
	baseURL string
	client  *http.Client
}

// NewLocator creates a locator for the build server at baseURL.
// A zero timeout means no timeout.
func NewLocator(baseURL string, timeout time.Duration) *Locator {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Locator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// BuildURL returns "{base}/job/{job}/{build}/" with the job name escaped
func (l *Locator) BuildURL(job string, build int) string {
	return l.baseURL + "job/" + url.PathEscape(job) + "/" + strconv.Itoa(build) + "/"
}

// Metadata fetches the build's JSON description
func (l *Locator) Metadata(ctx context.Context, job string, build int) (*BuildMetadata, error) {
	metadataURL := l.BuildURL(job, build) + "api/json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, http.NoBody)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.Internal, err, "failed to build metadata request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.BuildNotFound, err, "failed to query build server for %s #%d", job, build)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, deployerr.New(deployerr.BuildNotFound, "build server returned %s for %s #%d", resp.Status, job, build)
	}

	var metadata BuildMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(&metadata); err != nil {
		return nil, deployerr.Wrap(deployerr.BuildNotFound, err, "failed to decode build metadata for %s #%d", job, build)
	}

	return &metadata, nil
}

// Locate queries the build server and checks that the build is deployable:
// successful, exactly one artifact, and that artifact is a .tar.gz archive.
func (l *Locator) Locate(ctx context.Context, job string, build int) (*Descriptor, error) {
	metadata, err := l.Metadata(ctx, job, build)
	if err != nil {
		return nil, err
	}

	return l.Select(job, build, metadata)
}

// Select applies the deployability policy to already fetched metadata.
func (l *Locator) Select(job string, build int, metadata *BuildMetadata) (*Descriptor, error) {
	if metadata.Result != ResultSuccess {
		return nil, deployerr.New(deployerr.BuildNotSuccessful,
			"Not deploying. Build was not marked as SUCCESS (result: %q)", metadata.Result)
	}

	if len(metadata.Artifacts) != 1 {
		return nil, deployerr.New(deployerr.UnexpectedArtifactCount,
			"Not deploying. Build has an unexpected number of artifacts (%d)", len(metadata.Artifacts))
	}

	relativePath := metadata.Artifacts[0].RelativePath
	if !strings.HasSuffix(relativePath, ArchiveExtension) {
		return nil, deployerr.New(deployerr.UnexpectedArtifactType,
			"Not deploying. Artifact is not a %s file: %s", ArchiveExtension, relativePath)
	}

	return &Descriptor{
		URL:      l.BuildURL(job, build) + "artifact/" + escapeRelativePath(relativePath),
		Filename: path.Base(relativePath),
	}, nil
}

// escapeRelativePath escapes each segment of a slash separated artifact path
func escapeRelativePath(relativePath string) string {
	segments := strings.Split(relativePath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// ReleaseName derives the release directory name from an archive filename
func ReleaseName(filename string) string {
	return strings.TrimSuffix(filename, ArchiveExtension)
}
