package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wipfli/immich/internal/ai"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
	"github.com/wipfli/immich/internal/metrics"
	"github.com/wipfli/immich/internal/ml"
	"github.com/wipfli/immich/internal/textnorm"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultResultLimit is the number of assets a search returns.
	DefaultResultLimit = 100

	exploreMaxFields         = 12
	exploreMinAssetsPerField = 5
)

// Deps are the collaborators of a Service. Translator may be nil.
type Deps struct {
	SmartInfo  database.SmartInfoStore
	Assets     database.AssetReader
	Encoder    ml.Encoder
	Translator ai.Translator
	System     *config.SystemConfigStore
}

// Service runs searches and builds the explore page for one owner at a time.
// It holds no per-request state.
type Service struct {
	deps        Deps
	maxDistance float64
	limit       int
}

func NewService(deps Deps, cfg config.SearchConfig) *Service {
	limit := cfg.ResultLimit
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	return &Service{deps: deps, maxDistance: cfg.MaxDistance, limit: limit}
}

// SearchRequest is a search as the caller sends it. Q takes precedence over Query.
type SearchRequest struct {
	Q     string
	Query string
	CLIP  bool
}

// QueryText returns the text to search for: Q, else Query, else "*".
func (r SearchRequest) QueryText() string {
	if q := strings.TrimSpace(r.Q); q != "" {
		return q
	}
	if q := strings.TrimSpace(r.Query); q != "" {
		return q
	}
	return "*"
}

// Search resolves the strategy from the current system config and runs it.
func (s *Service) Search(ctx context.Context, ownerID string, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	query := req.QueryText()
	sys := s.deps.System.Get()

	strategy := MustHandle(SelectStrategy(StrategyInput{
		SearchEnabled:          sys.Features.Search,
		MachineLearningEnabled: sys.MachineLearning.Enabled,
		CLIPEnabled:            sys.MachineLearning.CLIP.Enabled,
		CLIPRequested:          req.CLIP,
	}))

	var items []AssetResponse
	var err error
	switch strategy.(type) {
	case Disabled:
		err = apperrors.FeatureDisabled("search")
	case Text:
		items, err = s.searchText(ctx, ownerID, query)
	case Embedding:
		items, err = s.searchEmbedding(ctx, ownerID, query, sys.MachineLearning)
	}

	status := "ok"
	if err != nil {
		status = string(apperrors.CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	metrics.SearchRequests.WithLabelValues(strategy.String(), status).Inc()
	metrics.SearchLatency.WithLabelValues(strategy.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return newSearchResponse(items), nil
}

func (s *Service) searchText(ctx context.Context, ownerID, query string) ([]AssetResponse, error) {
	if ownerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "owner is required")
	}
	if query != "*" {
		query = textnorm.Normalize(query)
	}

	assets, err := s.deps.Assets.SearchText(ctx, ownerID, query, s.limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	items := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		if a.OwnerID == ownerID {
			items = append(items, newAssetResponse(a))
		}
	}
	return items, nil
}

func (s *Service) searchEmbedding(ctx context.Context, ownerID, query string, mlConfig config.SystemMachineLearningConfig) ([]AssetResponse, error) {
	if ownerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "owner is required")
	}

	text := ai.TranslateQuery(ctx, s.deps.Translator, query)
	vec, err := s.deps.Encoder.EncodeText(ctx, mlConfig.URL, text, mlConfig.CLIP)
	if err != nil {
		return nil, err
	}

	matches, err := s.deps.SmartInfo.SearchByEmbedding(ctx, database.EmbeddingSearch{
		OwnerID:     ownerID,
		Embedding:   vec,
		NumResults:  s.limit,
		MaxDistance: s.maxDistance,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []AssetResponse{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.AssetID
	}
	assets, err := s.deps.Assets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate assets: %w", err)
	}
	byID := make(map[string]database.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	items := make([]AssetResponse, 0, len(matches))
	for _, m := range matches {
		a, ok := byID[m.AssetID]
		if !ok || a.OwnerID != ownerID {
			continue
		}
		item := newAssetResponse(a)
		distance := m.Distance
		item.Distance = &distance
		items = append(items, item)
	}
	return items, nil
}

// ExploreData returns the city and tag groupings of the owner's library,
// each item carrying its representative asset.
func (s *Service) ExploreData(ctx context.Context, ownerID string) ([]database.SearchExploreField[AssetResponse], error) {
	if !s.deps.System.Get().Features.Search {
		return nil, apperrors.FeatureDisabled("search")
	}
	if ownerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "owner is required")
	}

	start := time.Now()
	opts := database.ExploreOptions{MaxFields: exploreMaxFields, MinAssetsPerField: exploreMinAssetsPerField}

	var cities, tags database.SearchExploreField[string]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cities, err = s.deps.Assets.GetAssetIDsByCity(gctx, ownerID, opts)
		return err
	})
	g.Go(func() error {
		var err error
		tags, err = s.deps.Assets.GetAssetIDsByTag(gctx, ownerID, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("explore groupings: %w", err)
	}

	fields := []database.SearchExploreField[string]{cities, tags}

	seen := make(map[string]struct{})
	var ids []string
	for _, f := range fields {
		for _, item := range f.Items {
			if _, ok := seen[item.Data]; ok {
				continue
			}
			seen[item.Data] = struct{}{}
			ids = append(ids, item.Data)
		}
	}

	byID := make(map[string]database.Asset, len(ids))
	if len(ids) > 0 {
		assets, err := s.deps.Assets.GetByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("hydrate explore assets: %w", err)
		}
		for _, a := range assets {
			if a.OwnerID == ownerID {
				byID[a.ID] = a
			}
		}
	}

	out := make([]database.SearchExploreField[AssetResponse], 0, len(fields))
	for _, f := range fields {
		field := database.SearchExploreField[AssetResponse]{
			FieldName: f.FieldName,
			Items:     make([]database.SearchExploreItem[AssetResponse], 0, len(f.Items)),
		}
		for _, item := range f.Items {
			a, ok := byID[item.Data]
			if !ok {
				continue
			}
			field.Items = append(field.Items, database.SearchExploreItem[AssetResponse]{
				Value: item.Value,
				Data:  newAssetResponse(a),
			})
		}
		out = append(out, field)
	}

	slog.Debug("explore data built",
		"owner", ownerID,
		"assets", len(byID),
		"duration", time.Since(start))
	return out, nil
}

// Reload re-reads the system config file and swaps the snapshot used by
// subsequent requests.
func (s *Service) Reload(ctx context.Context) (config.SystemConfig, error) {
	if err := ctx.Err(); err != nil {
		return s.deps.System.Get(), err
	}
	return s.deps.System.Reload()
}

// SystemConfig returns the snapshot requests are currently served with.
func (s *Service) SystemConfig() config.SystemConfig {
	return s.deps.System.Get()
}
