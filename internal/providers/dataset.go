package providers

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/podrex/pkg/models"
)

// DatasetFile is the on-disk catalog format: episodes plus optional
// precomputed embeddings keyed by episode id. Embeddings seed the configured
// vector store at startup when the namespace is still cold.
type DatasetFile struct {
	DatasetVersion string               `json:"dataset_version,omitempty"`
	Episodes       []models.Episode     `json:"episodes"`
	Embeddings     map[string][]float32 `json:"embeddings,omitempty"`
}

// DatasetProvider serves a catalog loaded once from a JSON file. All text
// fields are NFC-normalized at load time so engagement slugs recorded by
// different clients compare byte-wise against catalog ids.
type DatasetProvider struct {
	*MemoryEpisodeProvider
	embeddings map[string][]float32
	version    string
}

func NewDatasetProvider(path string) (*DatasetProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	var file DatasetFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if len(file.Episodes) == 0 {
		return nil, fmt.Errorf("dataset %s contains no episodes", path)
	}

	seen := make(map[string]struct{}, len(file.Episodes))
	for i := range file.Episodes {
		ep := &file.Episodes[i]
		normalizeEpisode(ep)
		if ep.ID == "" {
			return nil, fmt.Errorf("dataset %s: episode %d has no id", path, i)
		}
		if _, dup := seen[ep.ID]; dup {
			return nil, fmt.Errorf("dataset %s: duplicate episode id %s", path, ep.ID)
		}
		seen[ep.ID] = struct{}{}
		if ep.Credibility < 0 || ep.Credibility > 4 || ep.Insight < 0 || ep.Insight > 4 {
			return nil, fmt.Errorf("dataset %s: episode %s has scores out of range", path, ep.ID)
		}
	}

	embeddings := make(map[string][]float32, len(file.Embeddings))
	for id, vec := range file.Embeddings {
		embeddings[norm.NFC.String(id)] = vec
	}

	return &DatasetProvider{
		MemoryEpisodeProvider: NewMemoryEpisodeProvider(file.Episodes),
		embeddings:            embeddings,
		version:               file.DatasetVersion,
	}, nil
}

// Embeddings returns the precomputed vectors shipped with the dataset,
// keyed by episode id. Callers must not mutate the returned map.
func (p *DatasetProvider) Embeddings() map[string][]float32 {
	return p.embeddings
}

// Version is the dataset_version declared by the file, or empty.
func (p *DatasetProvider) Version() string {
	return p.version
}

func normalizeEpisode(ep *models.Episode) {
	ep.ID = norm.NFC.String(ep.ID)
	ep.ContentID = norm.NFC.String(ep.ContentID)
	ep.Title = norm.NFC.String(ep.Title)
	ep.KeyInsight = norm.NFC.String(ep.KeyInsight)
	ep.SeriesID = norm.NFC.String(ep.SeriesID)
	ep.SeriesName = norm.NFC.String(ep.SeriesName)
	for i := range ep.Categories {
		ep.Categories[i].Name = norm.NFC.String(ep.Categories[i].Name)
	}
}
