package ingestion

import (
	"context"
	"os"
	"time"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

// PayloadLoader resolves a job's PayloadRef back to ingestible source text,
// implementing scheduler.PayloadLoader. It understands the two schemes
// Service.Submit can produce: "inline" (content riding in the ref itself)
// and "file" (a local filesystem path).
type PayloadLoader struct{}

func NewPayloadLoader() *PayloadLoader {
	return &PayloadLoader{}
}

// Load implements scheduler.PayloadLoader.
func (l *PayloadLoader) Load(ctx context.Context, ref domain.PayloadRef) (domain.Source, error) {
	var content string
	switch ref.Source {
	case "inline":
		content = ref.InlineContent
	case "file":
		data, err := os.ReadFile(ref.Filename)
		if err != nil {
			return domain.Source{}, kgerrors.StoreUnavailable("read payload file "+ref.Filename, err)
		}
		content = string(data)
	default:
		return domain.Source{}, kgerrors.Validation("unknown payload source scheme: " + ref.Source)
	}

	return domain.Source{
		ID:            ref.ContentHash,
		DocumentLabel: ref.Filename,
		FullText:      content,
		ContentHash:   ref.ContentHash,
		CreatedAt:     time.Now(),
	}, nil
}
