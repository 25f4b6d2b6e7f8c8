// Package fastembed runs a local ONNX embedding model. It needs cgo; builds
// without it get a provider that always fails with ErrFastEmbedNotAvailable.
package fastembed

import (
	"errors"
	"fmt"
)

var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo, choose another EMBEDDING_PROVIDER)")

// DefaultModel is the sentence-transformers model the catalog is sized for.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

type Config struct {
	Model     string
	CacheDir  string
	MaxLength int
}

type modelInfo struct {
	name      string // fastembed model id
	dimension int
}

var models = map[string]modelInfo{
	"sentence-transformers/all-MiniLM-L6-v2": {"fast-all-MiniLM-L6-v2", 384},
	"BAAI/bge-small-en-v1.5":                 {"fast-bge-small-en-v1.5", 384},
	"BAAI/bge-base-en-v1.5":                  {"fast-bge-base-en-v1.5", 768},
	"fast-all-MiniLM-L6-v2":                  {"fast-all-MiniLM-L6-v2", 384},
	"fast-bge-small-en-v1.5":                 {"fast-bge-small-en-v1.5", 384},
	"fast-bge-base-en-v1.5":                  {"fast-bge-base-en-v1.5", 768},
}

func resolve(model string) (modelInfo, error) {
	if model == "" {
		model = DefaultModel
	}
	info, ok := models[model]
	if !ok {
		return modelInfo{}, fmt.Errorf("fastembed: unsupported model %q", model)
	}
	return info, nil
}

// Dimension reports the vector size of model, or 0 if it is unknown.
func Dimension(model string) int {
	info, err := resolve(model)
	if err != nil {
		return 0
	}
	return info.dimension
}
