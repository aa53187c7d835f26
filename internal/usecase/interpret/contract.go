package interpret

import (
	"context"

	"github.com/kailas-cloud/voxdex/internal/domain"
)

// Completer runs the interpretation completion call.
type Completer interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

// ValueSource lists the known values of a categorical attribute, used as
// prompt hints so the model resolves caller phrasing to real index values.
type ValueSource interface {
	KnownValues(attr string) []string
}
