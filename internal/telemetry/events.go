package telemetry

// Structured event names emitted by the ranking pipeline and the session
// orchestrator. Tests assert on these, so they are stable identifiers.
const (
	EventEngagementEmbeddingSkipped     = "ENGAGEMENT_EMBEDDING_SKIPPED"
	EventEngagementKindUnknown          = "ENGAGEMENT_KIND_UNKNOWN"
	EventUserVectorWeightsInvalid       = "USER_VECTOR_WEIGHTS_INVALID"
	EventUserVectorDimMismatch          = "USER_VECTOR_DIM_MISMATCH"
	EventSimilarityMissingInQueryResult = "SIMILARITY_MISSING_IN_QUERY_RESULTS"
	EventSimilarityFetchPathNoPinecone  = "SIMILARITY_FETCH_PATH_NO_PINECONE"
	EventSessionUserVectorNoneFetchPath = "SESSION_USER_VECTOR_NONE_FETCH_PATH"
	EventSessionNoQueryAsync            = "SESSION_NO_QUERY_ASYNC"
	EventSeriesAdjacencyForced          = "series-adjacency-forced"
	EventEngagementPersistFailed        = "ENGAGEMENT_PERSIST_FAILED"
	EventEngagementPublishFailed        = "ENGAGEMENT_PUBLISH_FAILED"
	EventUpstreamDegraded               = "UPSTREAM_DEGRADED"
	EventQueryPathFallback              = "QUERY_PATH_FALLBACK"
)
