package session

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/messaging"
	"github.com/temcen/podrex/internal/providers"
	"github.com/temcen/podrex/internal/ranking"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

// EngagementPublisher is the messaging surface the orchestrator writes
// engagement events to. A nil publisher disables publishing.
type EngagementPublisher interface {
	PublishEngagement(ctx context.Context, event messaging.EngagementEvent) error
}

// Backends groups the upstream providers one session draws from. Querier is
// optional; when nil every session is built on the fetch path.
type Backends struct {
	Episodes    providers.EpisodeProvider
	Engagements providers.EngagementStore
	Users       providers.UserStore
	Vectors     providers.VectorStore
	Querier     providers.VectorQuerier
}

// Orchestrator coordinates the I/O around the ranking pipeline: concurrent
// upstream fetches, the optional store-side ANN query, session persistence,
// and the asynchronous engagement write-back. All scoring itself lives in
// the ranking package; the orchestrator only gathers inputs and stores
// outputs.
type Orchestrator struct {
	backends     Backends
	store        Store
	publisher    EngagementPublisher
	rankingStore *config.RankingStore
	pipeline     *ranking.Pipeline
	providerCfg  config.ProvidersConfig
	sessionCfg   config.SessionConfig
	breaker      *gobreaker.CircuitBreaker[[]providers.QueryMatch]
	metrics      *telemetry.Telemetry
	sink         telemetry.EventSink
	logger       *logrus.Logger

	now    func() time.Time
	writes sync.WaitGroup
}

// NewOrchestrator wires a session orchestrator. The publisher may be nil to
// disable engagement events, and metrics may be nil to disable instruments;
// degradation events always flow to the sink.
func NewOrchestrator(
	backends Backends,
	store Store,
	publisher EngagementPublisher,
	rankingStore *config.RankingStore,
	providerCfg config.ProvidersConfig,
	sessionCfg config.SessionConfig,
	metrics *telemetry.Telemetry,
	sink telemetry.EventSink,
	logger *logrus.Logger,
) *Orchestrator {
	o := &Orchestrator{
		backends:     backends,
		store:        store,
		publisher:    publisher,
		rankingStore: rankingStore,
		pipeline:     ranking.NewPipeline(sink),
		providerCfg:  providerCfg,
		sessionCfg:   sessionCfg,
		metrics:      metrics,
		sink:         sink,
		logger:       logger,
		now:          time.Now,
	}

	if backends.Querier != nil {
		o.breaker = gobreaker.NewCircuitBreaker[[]providers.QueryMatch](gobreaker.Settings{
			Name:        "vector-query",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		})
	}

	return o
}

// Drain blocks until all in-flight asynchronous engagement writes finish.
// Called on shutdown so recorded engagements are not lost to process exit.
func (o *Orchestrator) Drain() {
	o.writes.Wait()
}

// createState carries the intermediate products of one CreateSession call
// between its phases.
type createState struct {
	req   models.SessionCreateRequest
	cfg   config.RankingConfig
	limit int
	now   time.Time

	engagements []models.Engagement
	profile     *models.UserProfile
	catalog     []models.Episode
	byID        map[string]*models.Episode
	byContentID map[string]*models.Episode

	requestExcluded map[string]struct{}
	excluded        map[string]struct{}
	candidates      []models.Episode

	// prefetch is the normalized engagement window that shapes the user
	// vector; prefetchIDs are the embedding keys it can resolve through.
	prefetch    []models.Engagement
	prefetchIDs []string
}

// CreateSession builds a ranked queue for one request: it fetches catalog,
// engagement history, and profile concurrently, picks the query or fetch
// path, runs the ranking pipeline, and persists the resulting session. The
// response previews the whole queue; the cursor stays at zero until the
// client calls NextPage.
func (o *Orchestrator) CreateSession(ctx context.Context, req models.SessionCreateRequest) (*models.SessionCreateResponse, error) {
	started := o.now()
	st := &createState{
		req: req,
		cfg: o.rankingStore.Snapshot(),
		now: o.now().UTC(),
	}

	if err := o.validateCreate(st); err != nil {
		o.metrics.SessionOp("create", "invalid")
		return nil, err
	}
	if err := o.fetchInputs(ctx, st); err != nil {
		o.metrics.SessionOp("create", "upstream_error")
		return nil, err
	}
	o.deriveCandidates(st)

	input := ranking.PipelineInput{
		Episodes:    st.catalog,
		Engagements: st.engagements,
		ExcludedIDs: st.requestExcluded,
		ByContentID: st.byContentID,
		Profile:     st.profile,
		Limit:       st.limit,
		Now:         st.now,
	}

	queryCandidates, sims, precomputed, usedQuery := o.resolveQueryPath(ctx, st)
	input.Precomputed = precomputed
	if usedQuery {
		input.QueryCandidates = queryCandidates
		input.Similarities = sims
	} else {
		embeddings, err := o.fetchRankingEmbeddings(ctx, st)
		if err != nil {
			o.metrics.SessionOp("create", "upstream_error")
			return nil, err
		}
		input.Embeddings = embeddings
	}

	result, err := o.pipeline.Run(input, &st.cfg)
	if err != nil {
		o.metrics.SessionOp("create", "pipeline_error")
		return nil, err
	}

	session := &models.Session{
		ID:                     uuid.New().String(),
		Queue:                  result.Queue,
		Cursor:                 0,
		ColdStart:              result.ColdStart,
		CreatedAt:              st.now,
		LastAccessed:           st.now,
		AlgorithmVersion:       st.cfg.AlgorithmVersion,
		DatasetVersion:         st.cfg.DatasetVersion,
		EngagedIDs:             make(map[string]struct{}),
		ExcludedIDs:            st.excluded,
		UserVectorEpisodeCount: result.UserVectorEpisodeCount,
	}
	if err := o.store.Create(ctx, session); err != nil {
		o.metrics.SessionOp("create", "store_error")
		return nil, err
	}

	o.metrics.SessionOp("create", "ok")
	o.metrics.SessionCreated(result.ColdStart, len(result.Queue), o.now().Sub(started))
	o.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"queue_len":  len(result.Queue),
		"cold_start": result.ColdStart,
		"query_path": usedQuery,
	}).Info("Session created")

	return &models.SessionCreateResponse{
		SessionID:        session.ID,
		Episodes:         result.Queue,
		TotalInQueue:     len(result.Queue),
		ShownCount:       0,
		RemainingCount:   len(result.Queue),
		ColdStart:        result.ColdStart,
		AlgorithmVersion: st.cfg.AlgorithmVersion,
		DatasetVersion:   st.cfg.DatasetVersion,
		Debug: models.SessionDebug{
			ScoringWeights:         result.WeightsUsed,
			UserVectorEpisodeCount: result.UserVectorEpisodeCount,
		},
	}, nil
}

func (o *Orchestrator) validateCreate(st *createState) error {
	limit := st.req.Limit
	if limit == 0 {
		limit = o.sessionCfg.DefaultLimit
		if limit <= 0 {
			limit = 10
		}
	}
	maxLimit := o.sessionCfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 50
	}
	if limit < 1 || limit > maxLimit {
		return models.NewError(models.ErrInputInvalid, "limit must be between 1 and %d, got %d", maxLimit, st.req.Limit)
	}
	st.limit = limit

	if len(st.req.UserVector) > 0 {
		if len(st.req.UserVector) != st.cfg.EmbeddingDimension {
			return models.NewError(models.ErrInputInvalid,
				"user_vector has dimension %d, expected %d", len(st.req.UserVector), st.cfg.EmbeddingDimension)
		}
		for _, v := range st.req.UserVector {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return models.NewError(models.ErrInputInvalid, "user_vector contains non-finite values")
			}
		}
	}
	return nil
}

// fetchInputs gathers catalog, engagement history, and user profile
// concurrently. Catalog failure is always fatal; engagement and profile
// failures degrade to empty results when degradation is enabled, with an
// event marking what was lost.
func (o *Orchestrator) fetchInputs(ctx context.Context, st *createState) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		catalog, err := o.fetchCatalog(gctx)
		if err != nil {
			return err
		}
		st.catalog = catalog
		return nil
	})

	g.Go(func() error {
		engagements, err := o.fetchEngagements(gctx, st.req.UserID, st.req.Engagements)
		if err != nil {
			if o.providerCfg.DegradeOnUpstreamTimeout {
				o.degrade("engagements", err)
				st.engagements = st.req.Engagements
				return nil
			}
			return err
		}
		st.engagements = engagements
		return nil
	})

	if st.req.UserID != "" {
		g.Go(func() error {
			profile, err := o.fetchProfile(gctx, st.req.UserID)
			if err != nil {
				if o.providerCfg.DegradeOnUpstreamTimeout {
					o.degrade("users", err)
					return nil
				}
				return err
			}
			st.profile = profile
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	st.byID = models.EpisodesByID(st.catalog)
	st.byContentID = models.EpisodesByContentID(st.catalog)
	return nil
}

func (o *Orchestrator) degrade(provider string, err error) {
	o.sink.Event(telemetry.EventUpstreamDegraded, logrus.Fields{
		"provider": provider,
		"error":    err.Error(),
	})
}

func (o *Orchestrator) fetchCatalog(ctx context.Context) ([]models.Episode, error) {
	var out []models.Episode
	begin := time.Now()
	err := providers.WithRetry(ctx, o.providerCfg.MaxRetries, o.providerCfg.RetryBackoff, func() error {
		callCtx, cancel := withTimeout(ctx, o.providerCfg.FetchTimeout)
		defer cancel()
		var err error
		out, err = o.backends.Episodes.GetEpisodes(callCtx, providers.EpisodeQuery{})
		return err
	})
	err = providers.ClassifyUpstream(err, "episodes")
	o.metrics.ProviderCall("episodes", "get_episodes", time.Since(begin), err)
	return out, err
}

func (o *Orchestrator) fetchEngagements(ctx context.Context, userID string, requested []models.Engagement) ([]models.Engagement, error) {
	var out []models.Engagement
	begin := time.Now()
	err := providers.WithRetry(ctx, o.providerCfg.MaxRetries, o.providerCfg.RetryBackoff, func() error {
		callCtx, cancel := withTimeout(ctx, o.providerCfg.FetchTimeout)
		defer cancel()
		var err error
		out, err = o.backends.Engagements.GetEngagementsForRanking(callCtx, userID, requested, o.providerCfg.EngagementFetchLimit)
		return err
	})
	err = providers.ClassifyUpstream(err, "engagements")
	o.metrics.ProviderCall("engagements", "get_engagements", time.Since(begin), err)
	return out, err
}

func (o *Orchestrator) fetchProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var out *models.UserProfile
	begin := time.Now()
	err := providers.WithRetry(ctx, o.providerCfg.MaxRetries, o.providerCfg.RetryBackoff, func() error {
		callCtx, cancel := withTimeout(ctx, o.providerCfg.FetchTimeout)
		defer cancel()
		var err error
		out, err = o.backends.Users.GetByID(callCtx, userID)
		return err
	})
	err = providers.ClassifyUpstream(err, "users")
	o.metrics.ProviderCall("users", "get_profile", time.Since(begin), err)
	return out, err
}

// deriveCandidates computes exclusions, the Stage A pool, and the engagement
// window whose embeddings the user vector needs. The engagement window keys
// both raw engagement ids and their catalog-resolved episode ids, matching
// how the user vector resolves embeddings.
func (o *Orchestrator) deriveCandidates(st *createState) {
	st.requestExcluded = make(map[string]struct{}, len(st.req.ExcludedIDs))
	for _, id := range st.req.ExcludedIDs {
		if id != "" {
			st.requestExcluded[id] = struct{}{}
		}
	}
	st.excluded = ranking.MergeExclusions(st.requestExcluded, st.engagements)
	st.candidates = ranking.CandidatePool(st.catalog, st.excluded, &st.cfg, st.now)

	// Kind-unknown events fire once, inside the pipeline run.
	prefetch := ranking.NormalizeEngagements(st.engagements, telemetry.Nop{})
	if len(prefetch) > st.cfg.UserVectorLimit {
		prefetch = prefetch[:st.cfg.UserVectorLimit]
	}
	st.prefetch = prefetch

	seen := make(map[string]struct{}, 2*len(prefetch))
	for _, eng := range prefetch {
		if _, ok := seen[eng.EpisodeID]; !ok {
			seen[eng.EpisodeID] = struct{}{}
			st.prefetchIDs = append(st.prefetchIDs, eng.EpisodeID)
		}
		if ep := st.byContentID[eng.EpisodeID]; ep != nil {
			if _, ok := seen[ep.ID]; !ok {
				seen[ep.ID] = struct{}{}
				st.prefetchIDs = append(st.prefetchIDs, ep.ID)
			}
		}
	}
}

// resolveQueryPath decides between the store-side ANN query and the fetch
// path. It returns the query candidates and their verbatim similarities when
// the query succeeds, plus the user-vector result it had to compute either
// way; the pipeline receives that result so the computation and its events
// never run twice. A false return means the caller ranks on the fetch path.
func (o *Orchestrator) resolveQueryPath(ctx context.Context, st *createState) ([]models.Episode, map[string]float64, *ranking.UserVectorResult, bool) {
	if o.backends.Querier == nil {
		if o.hasVectorSource(st) {
			o.sink.Event(telemetry.EventSessionNoQueryAsync, logrus.Fields{"user_id": st.req.UserID})
		} else {
			o.sink.Event(telemetry.EventSessionUserVectorNoneFetchPath, logrus.Fields{"user_id": st.req.UserID})
		}
		return nil, nil, nil, false
	}

	precomputed, ok := o.computeUserVector(ctx, st)
	if !ok {
		return nil, nil, nil, false
	}
	if precomputed == nil || precomputed.Vector == nil {
		o.sink.Event(telemetry.EventSessionUserVectorNoneFetchPath, logrus.Fields{"user_id": st.req.UserID})
		return nil, nil, precomputed, false
	}

	matches, err := o.breaker.Execute(func() ([]providers.QueryMatch, error) {
		callCtx, cancel := withTimeout(ctx, o.providerCfg.FetchTimeout)
		defer cancel()
		return o.backends.Querier.Query(callCtx, precomputed.Vector, st.cfg.CandidatePoolSize, providers.QueryFilter{
			Namespace:      st.cfg.Namespace(),
			ExcludedIDs:    sortedIDs(st.excluded),
			MinCredibility: st.cfg.CredibilityFloor,
			MinCombined:    st.cfg.CombinedFloor,
			PublishedAfter: st.now.AddDate(0, 0, -st.cfg.FreshnessWindowDays),
		})
	})
	if err != nil {
		reason := "query_error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = "breaker_open"
		}
		o.sink.Event(telemetry.EventQueryPathFallback, logrus.Fields{
			"reason": reason,
			"error":  err.Error(),
		})
		o.metrics.QueryPath("fallback")
		return nil, nil, precomputed, false
	}
	if len(matches) == 0 {
		o.sink.Event(telemetry.EventQueryPathFallback, logrus.Fields{"reason": "no_matches"})
		o.metrics.QueryPath("fallback")
		return nil, nil, precomputed, false
	}

	candidates := make([]models.Episode, 0, len(matches))
	sims := make(map[string]float64, len(matches))
	for _, match := range matches {
		ep, found := st.byID[match.EpisodeID]
		if !found {
			o.logger.WithField("episode_id", match.EpisodeID).Warn("Query match missing from catalog, skipped")
			continue
		}
		candidates = append(candidates, *ep)
		sims[ep.ID] = match.Similarity
	}
	if len(candidates) == 0 {
		o.sink.Event(telemetry.EventQueryPathFallback, logrus.Fields{"reason": "no_catalog_overlap"})
		o.metrics.QueryPath("fallback")
		return nil, nil, precomputed, false
	}

	o.metrics.QueryPath("hit")
	return candidates, sims, precomputed, true
}

// computeUserVector derives the user vector ahead of the pipeline so it can
// drive a store-side query. Returns ok=false when the embedding fetch it
// needs fails, which sends the session down the fetch path without a
// precomputed result.
func (o *Orchestrator) computeUserVector(ctx context.Context, st *createState) (*ranking.UserVectorResult, bool) {
	if len(st.req.UserVector) > 0 {
		return &ranking.UserVectorResult{Vector: st.req.UserVector}, true
	}
	if len(st.prefetchIDs) == 0 && st.profile == nil {
		return nil, true
	}

	embeddings, err := o.fetchEmbeddings(ctx, st.prefetchIDs, st.cfg.Namespace())
	if err != nil {
		o.sink.Event(telemetry.EventQueryPathFallback, logrus.Fields{
			"reason": "engagement_embeddings",
			"error":  err.Error(),
		})
		o.metrics.QueryPath("fallback")
		return nil, false
	}
	result := ranking.ComputeUserVector(st.prefetch, embeddings, st.byContentID, st.profile, &st.cfg, o.sink)
	return &result, true
}

func (o *Orchestrator) hasVectorSource(st *createState) bool {
	if len(st.req.UserVector) > 0 || len(st.prefetchIDs) > 0 {
		return true
	}
	return st.profile != nil && len(st.profile.CategoryAnchor) > 0
}

// fetchRankingEmbeddings loads every embedding the fetch path scores with:
// the Stage A candidates plus the engagement window.
func (o *Orchestrator) fetchRankingEmbeddings(ctx context.Context, st *createState) (map[string][]float32, error) {
	needed := make([]string, 0, len(st.candidates)+len(st.prefetchIDs))
	seen := make(map[string]struct{}, len(st.candidates)+len(st.prefetchIDs))
	for i := range st.candidates {
		id := st.candidates[i].ID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			needed = append(needed, id)
		}
	}
	for _, id := range st.prefetchIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			needed = append(needed, id)
		}
	}
	sort.Strings(needed)
	return o.fetchEmbeddings(ctx, needed, st.cfg.Namespace())
}

// fetchEmbeddings pulls embeddings in chunks so one oversized request cannot
// blow a provider's payload limits. Any chunk failure fails the whole fetch.
func (o *Orchestrator) fetchEmbeddings(ctx context.Context, ids []string, namespace string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	chunkSize := o.providerCfg.EmbeddingChunkSize
	if chunkSize <= 0 {
		chunkSize = 100
	}

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		var fetched map[string][]float32
		begin := time.Now()
		err := providers.WithRetry(ctx, o.providerCfg.MaxRetries, o.providerCfg.RetryBackoff, func() error {
			callCtx, cancel := withTimeout(ctx, o.providerCfg.FetchTimeout)
			defer cancel()
			var err error
			fetched, err = o.backends.Vectors.GetEmbeddings(callCtx, chunk, namespace)
			return err
		})
		err = providers.ClassifyUpstream(err, "vectors")
		o.metrics.ProviderCall("vectors", "get_embeddings", time.Since(begin), err)
		if err != nil {
			return nil, err
		}
		for id, vec := range fetched {
			out[id] = vec
		}
	}
	return out, nil
}

// NextPage advances the session cursor by count items and returns the slice
// it moved past. A nil count pages by the configured default; zero is a
// valid no-op that returns an empty page. The cursor clamps at the queue
// length, so paging a drained session keeps returning empty pages.
func (o *Orchestrator) NextPage(ctx context.Context, sessionID string, count *int) (*models.SessionPageResponse, error) {
	pageSize := o.sessionCfg.DefaultLimit
	if pageSize <= 0 {
		pageSize = 10
	}
	if count != nil {
		pageSize = *count
	}
	maxLimit := o.sessionCfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 50
	}
	if pageSize < 0 || pageSize > maxLimit {
		o.metrics.SessionOp("next", "invalid")
		return nil, models.NewError(models.ErrInputInvalid, "count must be between 0 and %d, got %d", maxLimit, pageSize)
	}

	var resp *models.SessionPageResponse
	err := o.store.Update(ctx, sessionID, func(session *models.Session) error {
		start := session.Cursor
		if start > len(session.Queue) {
			start = len(session.Queue)
		}
		end := start + pageSize
		if end > len(session.Queue) {
			end = len(session.Queue)
		}
		session.Cursor = end
		resp = &models.SessionPageResponse{
			SessionID:      session.ID,
			Episodes:       session.Queue[start:end],
			TotalInQueue:   len(session.Queue),
			ShownCount:     end,
			RemainingCount: len(session.Queue) - end,
		}
		return nil
	})
	if err != nil {
		o.metrics.SessionOp("next", opOutcome(err))
		return nil, err
	}
	o.metrics.SessionOp("next", "ok")
	return resp, nil
}

// Engage marks a queue episode as engaged: the episode joins the session's
// engaged and excluded sets synchronously, then the durable write and the
// event publish happen in the background. Write-back failures surface as
// telemetry, never as request errors.
func (o *Orchestrator) Engage(ctx context.Context, sessionID string, req models.SessionEngageRequest) (*models.SessionEngageResponse, error) {
	if !req.Kind.Known() {
		o.metrics.SessionOp("engage", "invalid")
		return nil, models.NewError(models.ErrInputInvalid, "unknown engagement kind %q", string(req.Kind))
	}

	var title, seriesName string
	err := o.store.Update(ctx, sessionID, func(session *models.Session) error {
		var episode *models.Episode
		for i := range session.Queue {
			if session.Queue[i].Episode.ID == req.EpisodeID {
				episode = &session.Queue[i].Episode
				break
			}
		}
		if episode == nil {
			return models.NewError(models.ErrInputInvalid, "episode %s is not in the session queue", req.EpisodeID)
		}
		title = episode.Title
		seriesName = episode.SeriesName

		session.EngagedIDs[req.EpisodeID] = struct{}{}
		session.ExcludedIDs[req.EpisodeID] = struct{}{}
		if episode.ContentID != "" {
			session.ExcludedIDs[episode.ContentID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		o.metrics.SessionOp("engage", opOutcome(err))
		return nil, err
	}

	event := messaging.EngagementEvent{
		SessionID:    sessionID,
		UserID:       req.UserID,
		EpisodeID:    req.EpisodeID,
		Kind:         req.Kind,
		EpisodeTitle: firstNonEmpty(req.EpisodeTitle, title),
		SeriesName:   firstNonEmpty(req.SeriesName, seriesName),
		OccurredAt:   o.now().UTC(),
	}
	o.writes.Add(1)
	go func() {
		defer o.writes.Done()
		o.recordEngagement(event)
	}()

	o.metrics.SessionOp("engage", "ok")
	return &models.SessionEngageResponse{OK: true}, nil
}

// recordEngagement is the asynchronous half of Engage: persist for known
// users, publish for everyone. It runs detached from the request context
// under its own deadline.
func (o *Orchestrator) recordEngagement(event messaging.EngagementEvent) {
	ctx, cancel := withTimeout(context.Background(), o.providerCfg.RecordTimeout)
	defer cancel()

	if event.UserID != "" {
		err := providers.WithRetry(ctx, o.providerCfg.MaxRetries, o.providerCfg.RetryBackoff, func() error {
			return o.backends.Engagements.RecordEngagement(ctx, event.UserID, models.Engagement{
				EpisodeID: event.EpisodeID,
				Kind:      event.Kind,
				Timestamp: event.OccurredAt,
			})
		})
		if err != nil {
			o.sink.Event(telemetry.EventEngagementPersistFailed, logrus.Fields{
				"session_id": event.SessionID,
				"episode_id": event.EpisodeID,
				"error":      err.Error(),
			})
			o.metrics.EngagementWrite("persist_failed")
		} else {
			o.metrics.EngagementWrite("persisted")
		}
	}

	if o.publisher != nil {
		if err := o.publisher.PublishEngagement(ctx, event); err != nil {
			o.sink.Event(telemetry.EventEngagementPublishFailed, logrus.Fields{
				"session_id": event.SessionID,
				"episode_id": event.EpisodeID,
				"error":      err.Error(),
			})
			o.metrics.EngagementWrite("publish_failed")
		}
	}
}

func opOutcome(err error) string {
	if kind, ok := models.KindOf(err); ok {
		switch kind {
		case models.ErrSessionNotFound:
			return "not_found"
		case models.ErrInputInvalid:
			return "invalid"
		}
	}
	return "error"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
