package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingStatus tracks a unit's progress through the embedding pipeline.
type EmbeddingStatus string

const (
	EmbeddingPending    EmbeddingStatus = "pending"
	EmbeddingProcessing EmbeddingStatus = "processing"
	EmbeddingCompleted  EmbeddingStatus = "completed"
	EmbeddingFailed     EmbeddingStatus = "failed"
)

func (s EmbeddingStatus) Valid() bool {
	switch s {
	case EmbeddingPending, EmbeddingProcessing, EmbeddingCompleted, EmbeddingFailed:
		return true
	}
	return false
}

// ReviewStatus is the human-review state shared by units and track attributes.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// Category classifies what kind of fact a unit carries.
type Category string

const (
	CategorySchoolInfo      Category = "school_info"
	CategoryMajorInfo       Category = "major_info"
	CategoryAdmissionData   Category = "admission_data"
	CategoryPolicyAnalysis  Category = "policy_analysis"
	CategoryExperienceGuide Category = "experience_guide"
	CategoryEmploymentData  Category = "employment_data"
)

func (c Category) Valid() bool {
	switch c {
	case CategorySchoolInfo, CategoryMajorInfo, CategoryAdmissionData,
		CategoryPolicyAnalysis, CategoryExperienceGuide, CategoryEmploymentData:
		return true
	}
	return false
}

// Importance ranks how load-bearing a unit is for answering.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// Confidence grades how trustworthy the extraction source was.
type Confidence string

const (
	ConfidenceVerified  Confidence = "verified"
	ConfidenceReliable  Confidence = "reliable"
	ConfidenceGeneral   Confidence = "general"
	ConfidenceUncertain Confidence = "uncertain"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceVerified, ConfidenceReliable, ConfidenceGeneral, ConfidenceUncertain:
		return true
	}
	return false
}

// Timeliness marks how quickly a unit's facts go stale.
type Timeliness string

const (
	TimelinessCurrent    Timeliness = "current"
	TimelinessRecent     Timeliness = "recent"
	TimelinessHistorical Timeliness = "historical"
	TimelinessTimeless   Timeliness = "timeless"
)

func (t Timeliness) Valid() bool {
	switch t {
	case TimelinessCurrent, TimelinessRecent, TimelinessHistorical, TimelinessTimeless:
		return true
	}
	return false
}

// Unit is the atomic retrievable fact. Content is the canonical text used for
// both display and embedding input.
//
// Invariants maintained by the store and pipeline:
//   - EmbeddingCompleted implies Embedding is non-nil and EmbeddingError is empty
//   - EmbeddingFailed implies EmbeddingError is non-empty
//   - any Content/Entities mutation resets the unit to EmbeddingPending and
//     clears Embedding and EmbeddingError
type Unit struct {
	ID              uuid.UUID       `json:"id"`
	Content         string          `json:"content"`
	Entities        map[string]any  `json:"entities,omitempty"`
	Labels          []string        `json:"labels,omitempty"`
	Keywords        []string        `json:"keywords,omitempty"`
	SchoolNames     []string        `json:"school_names,omitempty"`
	MajorNames      []string        `json:"major_names,omitempty"`
	Category        Category        `json:"category"`
	Importance      Importance      `json:"importance"`
	Confidence      Confidence      `json:"confidence"`
	Timeliness      Timeliness      `json:"timeliness"`
	SourceName      string          `json:"source_name"`
	Embedding       []float32       `json:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	EmbeddingError  string          `json:"embedding_error,omitempty"`
	ReviewStatus    ReviewStatus    `json:"review_status"`
	QualityScore    float64         `json:"quality_score"`
	RetrievalCount  int             `json:"retrieval_count"`
	LastRetrievedAt *time.Time      `json:"last_retrieved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ScoredUnit is a retrieval hit with its fused relevance score.
type ScoredUnit struct {
	Unit
	Similarity float64 `json:"similarity,omitempty"`
	MatchScore float64 `json:"match_score,omitempty"`
	Score      float64 `json:"score"`
}

// TrackAttribute is one approvable fact attached to an academic track
// (a school/major pairing). Only approved attributes of approved tracks are
// eligible for retrieval. Attributes are owned by their track and removed
// with it.
type TrackAttribute struct {
	ID              uuid.UUID    `json:"id"`
	TrackID         uuid.UUID    `json:"track_id"`
	AttributeName   string       `json:"attribute_name"`
	AttributeValue  string       `json:"attribute_value"`
	Year            *int         `json:"year,omitempty"`
	ConfidenceLevel Confidence   `json:"confidence_level"`
	Status          ReviewStatus `json:"status"`
}

// AcademicTrack pairs a school with a major and carries its reviewed
// attributes.
type AcademicTrack struct {
	ID         uuid.UUID        `json:"id"`
	ProgramID  uuid.UUID        `json:"program_id"`
	SchoolName string           `json:"school_name"`
	MajorName  string           `json:"major_name"`
	Status     ReviewStatus     `json:"status"`
	Attributes []TrackAttribute `json:"attributes,omitempty"`
}

// QueryLog records one answered query for offline quality analysis.
// Rows are append-only; only Feedback may be set after creation.
type QueryLog struct {
	ID               uuid.UUID      `json:"id"`
	Query            string         `json:"query"`
	Response         string         `json:"response"`
	RetrievedUnits   []RetrievedRef `json:"retrieved_units,omitempty"`
	RetrievalMethod  string         `json:"retrieval_method"`
	TopSimilarity    float64        `json:"top_similarity"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Feedback         *int           `json:"user_feedback,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// RetrievedRef is the compact per-hit record stored on a query log.
type RetrievedRef struct {
	ID    uuid.UUID `json:"id"`
	Score float64   `json:"score"`
}
