package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Property names of a catalog class.
const (
	PropRecordID = "recordId"
	PropTenantID = "tenantId"
	PropTitle    = "title"
	PropText     = "text"
	PropUploadID = "uploadId"
	PropPayload  = "payload"
)

// ClassName maps a collection name onto a Weaviate class name, which must
// start with an upper-case letter.
func ClassName(collection string) string {
	if collection == "" {
		return ""
	}
	return strings.ToUpper(collection[:1]) + collection[1:]
}

func catalogProperties() []*models.Property {
	no := false
	return []*models.Property{
		{
			Name:         PropRecordID,
			DataType:     []string{"text"},
			Tokenization: models.PropertyTokenizationField, // exact match
		},
		{
			Name:         PropTenantID,
			DataType:     []string{"text"},
			Tokenization: models.PropertyTokenizationField,
		},
		{
			Name:     PropTitle,
			DataType: []string{"text"},
		},
		{
			Name:     PropText,
			DataType: []string{"text"},
		},
		{
			Name:         PropUploadID,
			DataType:     []string{"text"},
			Tokenization: models.PropertyTokenizationField,
		},
		{
			// Full payload as JSON, returned with hits.
			Name:            PropPayload,
			DataType:        []string{"text"},
			IndexFilterable: &no,
			IndexSearchable: &no,
		},
	}
}

// EnsureSchema checks if the catalog class exists and creates it if not.
// An existing class gets any missing properties added.
func EnsureSchema(ctx context.Context, client SchemaClient, className, distance string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return fmt.Errorf("checking class %s: %w", className, err)
	}

	properties := catalogProperties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "Product catalog entries",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": distance,
			},
			Properties: properties,
		}
		if err := client.CreateClass(ctx, class); err != nil {
			// Another replica may have created it in between.
			if ok, checkErr := client.ClassExists(ctx, className); checkErr == nil && ok {
				return nil
			}
			return fmt.Errorf("creating class %s: %w", className, err)
		}
		return nil
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return fmt.Errorf("reading class %s: %w", className, err)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return fmt.Errorf("adding property %s: %w", p.Name, err)
			}
		}
	}

	return nil
}
