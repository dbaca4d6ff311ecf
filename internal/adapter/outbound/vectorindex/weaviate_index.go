package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/domain/entity"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate/entities/models"
)

// documentIDProperty keeps the source document id next to the derived object id.
const documentIDProperty = "documentId"

// objectNamespace seeds the UUIDv5 of every stored object.
var objectNamespace = uuid.MustParse("6f1d3c1e-6a0b-4f57-9a53-2f0a3f7c8d41") //nolint:gochecknoglobals // constant seed

// WeaviateConfig holds the Weaviate connection.
type WeaviateConfig struct {
	Host   string
	Scheme string
	APIKey string
}

// WeaviateIndex stores vectors in one multi-tenant class. Each namespace is a tenant.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string

	mu      sync.Mutex
	tenants map[string]struct{}
}

// NewWeaviateIndex creates a client for class.
func NewWeaviateIndex(config WeaviateConfig, class string) (*WeaviateIndex, error) {
	if config.Host == "" {
		return nil, errors.New("weaviate host is required")
	}
	if class == "" {
		return nil, errors.New("class name is required")
	}
	scheme := config.Scheme
	if scheme == "" {
		scheme = "http"
	}

	cfg := weaviate.Config{Host: config.Host, Scheme: scheme}
	if config.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize weaviate client (%s://%s): %w", scheme, config.Host, err)
	}

	return &WeaviateIndex{
		client:  client,
		class:   ClassName(class),
		tenants: make(map[string]struct{}),
	}, nil
}

// ClassName turns an index name into a valid class name: snake case becomes
// PascalCase with a leading capital.
func ClassName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Probe checks readiness and creates the class when missing.
func (w *WeaviateIndex) Probe(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness check failed: %w", err)
	}
	if !ready {
		return errors.New("weaviate is not ready")
	}
	return w.EnsureClass(ctx)
}

// EnsureClass creates the multi-tenant class without a vectorizer.
func (w *WeaviateIndex) EnsureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check class %s: %w", w.class, err)
	}
	if exists {
		return nil
	}

	err = w.client.Schema().ClassCreator().WithClass(&models.Class{
		Class:              w.class,
		Description:        "Article embeddings partitioned by job",
		Vectorizer:         "none",
		MultiTenancyConfig: &models.MultiTenancyConfig{Enabled: true},
		Properties: []*models.Property{
			{Name: documentIDProperty, DataType: []string{"text"}},
		},
	}).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create class %s: %w", w.class, err)
	}
	return nil
}

// Upsert writes records into the namespace tenant. Object ids are derived
// from the document id, so rewriting a document replaces it.
func (w *WeaviateIndex) Upsert(ctx context.Context, namespace string, records []entity.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if namespace == "" {
		return errors.New("namespace is required")
	}
	if err := w.ensureTenant(ctx, namespace); err != nil {
		return err
	}

	responses, err := w.client.Batch().ObjectsBatcher().
		WithObjects(toObjects(w.class, namespace, records)...).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to batch objects into %s/%s: %w", w.class, namespace, err)
	}
	if err := batchErrors(responses); err != nil {
		return err
	}

	slogger.Debug(ctx, "Upserted vectors", slogger.Fields{
		"namespace": namespace,
		"count":     len(records),
		"class":     w.class,
	})
	return nil
}

func (w *WeaviateIndex) ensureTenant(ctx context.Context, tenant string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tenants[tenant]; ok {
		return nil
	}

	existing, err := w.client.Schema().TenantsGetter().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants of %s: %w", w.class, err)
	}
	for _, t := range existing {
		if t.Name == tenant {
			w.tenants[tenant] = struct{}{}
			return nil
		}
	}

	err = w.client.Schema().TenantsCreator().
		WithClassName(w.class).
		WithTenants(models.Tenant{Name: tenant}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create tenant %s: %w", tenant, err)
	}
	w.tenants[tenant] = struct{}{}
	return nil
}

// ObjectID returns the stored object id of a document.
func ObjectID(documentID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(documentID)).String())
}

func toObjects(class, tenant string, records []entity.VectorRecord) []*models.Object {
	objects := make([]*models.Object, 0, len(records))
	for _, record := range records {
		properties := make(map[string]any, len(record.Metadata)+1)
		for k, v := range record.Metadata {
			properties[k] = v
		}
		properties[documentIDProperty] = record.ID

		objects = append(objects, &models.Object{
			Class:      class,
			ID:         ObjectID(record.ID),
			Tenant:     tenant,
			Vector:     models.C11yVector(record.Values),
			Properties: properties,
		})
	}
	return objects
}

// batchErrors joins the per-object errors of a batch response.
func batchErrors(responses []models.ObjectsGetResponse) error {
	var errs []error
	for _, resp := range responses {
		if resp.Result == nil || resp.Result.Errors == nil {
			continue
		}
		for _, item := range resp.Result.Errors.Error {
			if item == nil {
				continue
			}
			errs = append(errs, fmt.Errorf("object %s: %s", resp.ID, item.Message))
		}
	}
	return errors.Join(errs...)
}
