// Package sharepoint reads files from a SharePoint document library
// through the Microsoft Graph drive API. Authentication uses the
// OAuth2 client-credentials flow; list traffic is throttled and 429s
// are retried with backoff.
package sharepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/env"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

type Connector struct {
	name     string
	siteURL  string
	drive    string
	rootPath string

	client  *http.Client
	baseURL string
	limiter *rate.Limiter

	resolveOnce sync.Once
	siteID      string
	driveID     string
	resolveErr  error
}

type Config struct {
	Name     string
	SiteURL  string
	Drive    string
	RootPath string

	// Env resolves AZURE_TENANT_ID, AZURE_CLIENT_ID and
	// AZURE_CLIENT_SECRET. Defaults to the process environment.
	Env env.Provider

	// HTTPClient and BaseURL override the Graph endpoint, for tests.
	HTTPClient *http.Client
	BaseURL    string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	if cfg.SiteURL == "" || cfg.Drive == "" {
		return nil, errdefs.Config("sharepoint connector %q: site_url and drive are required", cfg.Name)
	}

	client := cfg.HTTPClient
	if client == nil {
		provider := cfg.Env
		if provider == nil {
			provider = env.NewDefaultProvider()
		}
		tenant, err := env.Require(ctx, provider, "AZURE_TENANT_ID")
		if err != nil {
			return nil, err
		}
		clientID, err := env.Require(ctx, provider, "AZURE_CLIENT_ID")
		if err != nil {
			return nil, err
		}
		secret, err := env.Require(ctx, provider, "AZURE_CLIENT_SECRET")
		if err != nil {
			return nil, err
		}
		creds := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			TokenURL:     "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/token",
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		client = creds.Client(ctx)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Connector{
		name:     cfg.Name,
		siteURL:  cfg.SiteURL,
		drive:    cfg.Drive,
		rootPath: strings.Trim(cfg.RootPath, "/"),
		client:   client,
		baseURL:  baseURL,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}, nil
}

func (c *Connector) Name() string { return c.name }

type driveItem struct {
	Name                 string         `json:"name"`
	Size                 *int64         `json:"size"`
	ETag                 string         `json:"eTag"`
	LastModifiedDateTime string         `json:"lastModifiedDateTime"`
	Folder               map[string]any `json:"folder"`
}

type listResponse struct {
	Value []driveItem `json:"value"`
}

func (c *Connector) List(ctx context.Context, selector []string) ([]connector.ResourceRef, error) {
	patterns := selector
	if len(patterns) == 0 {
		patterns = connector.DefaultSelector
	}

	siteID, driveID, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var refs []connector.ResourceRef
	stack := []string{c.rootPath}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var resp listResponse
		endpoint := fmt.Sprintf("%s/sites/%s/drives/%s/root/children", c.baseURL, siteID, driveID)
		if cur != "" {
			endpoint = fmt.Sprintf("%s/sites/%s/drives/%s/root:/%s:/children", c.baseURL, siteID, driveID, escapePath(cur))
		}
		if err := c.getJSON(ctx, endpoint, &resp); err != nil {
			return nil, errdefs.WrapConnector(err, "sharepoint connector %q: listing %s", c.name, cur)
		}

		for _, item := range resp.Value {
			rel := item.Name
			if cur != "" {
				rel = cur + "/" + item.Name
			}
			if item.Folder != nil {
				stack = append(stack, rel)
				continue
			}
			within := rel
			if c.rootPath != "" {
				within = strings.TrimPrefix(rel, c.rootPath+"/")
			}
			if !connector.MatchAny(patterns, within) {
				continue
			}
			refs = append(refs, connector.ResourceRef{
				ID:   within,
				URI:  fmt.Sprintf("sharepoint:/sites/%s/drives/%s/root:/%s", siteID, driveID, rel),
				Name: item.Name,
			})
		}
	}
	return refs, nil
}

func (c *Connector) Open(ctx context.Context, ref connector.ResourceRef) (io.ReadCloser, error) {
	siteID, driveID, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/sites/%s/drives/%s/root:/%s:/content", c.baseURL, siteID, driveID, escapePath(c.itemPath(ref)))
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, errdefs.WrapConnector(err, "sharepoint connector %q: downloading %s", c.name, ref.ID)
	}
	return resp.Body, nil
}

func (c *Connector) Info(ctx context.Context, ref connector.ResourceRef) (connector.ResourceInfo, error) {
	siteID, driveID, err := c.resolve(ctx)
	if err != nil {
		return connector.ResourceInfo{}, err
	}
	rel := c.itemPath(ref)

	var item driveItem
	endpoint := fmt.Sprintf("%s/sites/%s/drives/%s/root:/%s", c.baseURL, siteID, driveID, escapePath(rel))
	if err := c.getJSON(ctx, endpoint, &item); err != nil {
		return connector.ResourceInfo{}, errdefs.WrapConnector(err, "sharepoint connector %q: item %s", c.name, ref.ID)
	}

	info := connector.ResourceInfo{
		SourceURI: fmt.Sprintf("sharepoint:/sites/%s/drives/%s/root:/%s", siteID, driveID, rel),
		ETag:      item.ETag,
		Size:      item.Size,
	}
	if ts, err := time.Parse(time.RFC3339, item.LastModifiedDateTime); err == nil {
		modified := ts.UTC()
		info.ModifiedAt = &modified
	}
	return info, nil
}

func (c *Connector) itemPath(ref connector.ResourceRef) string {
	if c.rootPath == "" {
		return ref.ID
	}
	return c.rootPath + "/" + ref.ID
}

// resolve looks up the site and drive IDs once per connector.
func (c *Connector) resolve(ctx context.Context) (string, string, error) {
	c.resolveOnce.Do(func() {
		parsed, err := url.Parse(c.siteURL)
		if err != nil {
			c.resolveErr = errdefs.WrapConfig(err, "sharepoint connector %q: parsing site_url", c.name)
			return
		}
		host := parsed.Hostname()
		sitePath := strings.TrimPrefix(parsed.Path, "/")

		var site struct {
			ID string `json:"id"`
		}
		if err := c.getJSON(ctx, fmt.Sprintf("%s/sites/%s:/%s", c.baseURL, host, escapePath(sitePath)), &site); err != nil {
			c.resolveErr = errdefs.WrapConnector(err, "sharepoint connector %q: resolving site", c.name)
			return
		}
		if site.ID == "" {
			c.resolveErr = errdefs.Connector("sharepoint connector %q: failed to resolve site id", c.name)
			return
		}

		var drives struct {
			Value []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"value"`
		}
		if err := c.getJSON(ctx, fmt.Sprintf("%s/sites/%s/drives", c.baseURL, site.ID), &drives); err != nil {
			c.resolveErr = errdefs.WrapConnector(err, "sharepoint connector %q: listing drives", c.name)
			return
		}
		for _, d := range drives.Value {
			if d.Name == c.drive {
				c.siteID = site.ID
				c.driveID = d.ID
				return
			}
		}
		c.resolveErr = errdefs.Connector("sharepoint connector %q: drive %q not found", c.name, c.drive)
	})
	return c.siteID, c.driveID, c.resolveErr
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("graph request failed with status %d: %s", e.status, e.body)
}

func (c *Connector) get(ctx context.Context, endpoint string) (*http.Response, error) {
	return connector.Retry(ctx, func() (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
		}
		return resp, nil
	}, retryable)
}

func (c *Connector) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return connector.RetryableStatus(se.status)
	}
	return false
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

var _ connector.Connector = (*Connector)(nil)
