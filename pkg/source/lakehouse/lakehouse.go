package lakehouse

import (
	"context"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/source"
)

// New dispatches on the connection's platform field. Registration already
// validated the field, but adapters built directly still get a clear error.
func New(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (source.Adapter, error) {
	switch desc.Connection["platform"] {
	case "snowflake":
		return NewSnowflake(ctx, desc, credentials)
	case "bigquery":
		return NewBigQuery(ctx, desc, credentials)
	default:
		return nil, errors.New(errors.ErrorTypeInvalidConfig,
			"lakehouse source needs a platform of snowflake or bigquery").WithSource(desc.Name)
	}
}
