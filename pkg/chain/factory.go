package chain

import (
	"context"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/connector/local"
	"github.com/frontier-framework/fmf/pkg/connector/s3"
	"github.com/frontier-framework/fmf/pkg/connector/sharepoint"
	"github.com/frontier-framework/fmf/pkg/env"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// BuildConnector instantiates a configured connector by type.
func BuildConnector(ctx context.Context, cfg config.Connector, environ env.Provider) (connector.Connector, error) {
	switch cfg.Type {
	case "local":
		return local.New(local.Config{
			Name:    cfg.Name,
			Root:    cfg.Root,
			Include: cfg.Include,
			Exclude: cfg.Exclude,
		})
	case "s3":
		return s3.New(ctx, s3.Config{
			Name:        cfg.Name,
			Bucket:      cfg.Bucket,
			Prefix:      cfg.Prefix,
			Region:      cfg.Region,
			KMSRequired: cfg.KMSRequired,
		})
	case "sharepoint":
		return sharepoint.New(ctx, sharepoint.Config{
			Name:     cfg.Name,
			SiteURL:  cfg.SiteURL,
			Drive:    cfg.Drive,
			RootPath: cfg.RootPath,
			Env:      environ,
		})
	default:
		return nil, errdefs.Config("unknown connector type %q for %q", cfg.Type, cfg.Name)
	}
}
