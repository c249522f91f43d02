package store

// ValidationRecord is the persisted outcome of running the ingestion
// pipeline against one file or content blob.
type ValidationRecord struct {
	ID                string `db:"id" json:"id"`
	FilePath          string `db:"file_path" json:"file_path"`
	Status            string `db:"status" json:"status"`
	Severity          string `db:"severity" json:"severity"`
	RulesAppliedJSON  string `db:"rules_applied" json:"-"`
	ValidationTypesJS string `db:"validation_types" json:"-"`
	ValidationResults string `db:"validation_results" json:"-"`
	Content           string `db:"content" json:"content"`
	Notes             string `db:"notes" json:"notes"`
	CreatedAt         string `db:"created_at" json:"created_at"`
	UpdatedAt         string `db:"updated_at" json:"updated_at"`
}

// Validation status values, the state machine of §4.3.
const (
	ValidationStatusPass     = "pass"
	ValidationStatusFail     = "fail"
	ValidationStatusApproved = "approved"
	ValidationStatusRejected = "rejected"
	ValidationStatusEnhanced = "enhanced"
)

// Recommendation is one proposed change against a validation's content.
type Recommendation struct {
	ID              string  `db:"id" json:"id"`
	ValidationID    string  `db:"validation_id" json:"validation_id"`
	Type            string  `db:"type" json:"type"`
	Title           string  `db:"title" json:"title"`
	Description     string  `db:"description" json:"description"`
	Scope           string  `db:"scope" json:"scope"`
	Instruction     string  `db:"instruction" json:"instruction"`
	Rationale       string  `db:"rationale" json:"rationale"`
	Severity        string  `db:"severity" json:"severity"`
	OriginalContent string  `db:"original_content" json:"original_content"`
	ProposedContent string  `db:"proposed_content" json:"proposed_content"`
	Diff            string  `db:"diff" json:"diff"`
	Confidence      float64 `db:"confidence" json:"confidence"`
	Priority        int     `db:"priority" json:"priority"`
	Status          string  `db:"status" json:"status"`
	ReviewedBy      string  `db:"reviewed_by" json:"reviewed_by"`
	ReviewedAt      *string `db:"reviewed_at" json:"reviewed_at"`
	ReviewNotes     string  `db:"review_notes" json:"review_notes"`
	AppliedAt       *string `db:"applied_at" json:"applied_at"`
	AppliedBy       string  `db:"applied_by" json:"applied_by"`
	MetadataJSON    string  `db:"metadata" json:"-"`
	CreatedAt       string  `db:"created_at" json:"created_at"`
	UpdatedAt       string  `db:"updated_at" json:"updated_at"`
}

// Recommendation status values.
const (
	RecommendationStatusPending  = "pending"
	RecommendationStatusApproved = "approved"
	RecommendationStatusRejected = "rejected"
	RecommendationStatusApplied  = "applied"
)

// Workflow tracks a long-running background operation.
type Workflow struct {
	ID              string  `db:"id" json:"id"`
	Type            string  `db:"type" json:"type"`
	State           string  `db:"state" json:"state"`
	InputParamsJSON string  `db:"input_params" json:"-"`
	ProgressPercent float64 `db:"progress_percent" json:"progress_percent"`
	CurrentStep     int     `db:"current_step" json:"current_step"`
	TotalSteps      int     `db:"total_steps" json:"total_steps"`
	ErrorMessage    string  `db:"error_message" json:"error_message"`
	MetadataJSON    string  `db:"metadata" json:"-"`
	CreatedAt       string  `db:"created_at" json:"created_at"`
	UpdatedAt       string  `db:"updated_at" json:"updated_at"`
	CompletedAt     *string `db:"completed_at" json:"completed_at"`
}

// Workflow type values, §4.8.
const (
	WorkflowTypeValidateDirectory   = "validate_directory"
	WorkflowTypeBatchEnhance        = "batch_enhance"
	WorkflowTypeFullAudit           = "full_audit"
	WorkflowTypeRecommendationBatch = "recommendation_batch"
)

// Workflow state values, §4.8.
const (
	WorkflowStatePending   = "pending"
	WorkflowStateRunning   = "running"
	WorkflowStatePaused    = "paused"
	WorkflowStateCompleted = "completed"
	WorkflowStateFailed    = "failed"
	WorkflowStateCancelled = "cancelled"
)

// AuditEntry records one administrative or lifecycle operation.
type AuditEntry struct {
	ID          string `db:"id" json:"id"`
	Operation   string `db:"operation" json:"operation"`
	User        string `db:"user" json:"user"`
	Status      string `db:"status" json:"status"`
	DetailsJSON string `db:"details" json:"-"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}

// PerformanceSample records one timed operation for the performance report.
type PerformanceSample struct {
	ID         string  `db:"id" json:"id"`
	Operation  string  `db:"operation" json:"operation"`
	DurationMs float64 `db:"duration_ms" json:"duration_ms"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}

// CacheEntry is a persisted record of a cached value's metadata, used by
// the admin cache-statistics and cleanup operations (the cache's live
// values themselves live in Redis, per the cache subsystem).
type CacheEntry struct {
	CacheKey   string `db:"cache_key" json:"cache_key"`
	CacheType  string `db:"cache_type" json:"cache_type"`
	Value      string `db:"value" json:"-"`
	CreatedAt  string `db:"created_at" json:"created_at"`
	AccessedAt string `db:"accessed_at" json:"accessed_at"`
}

// MaintenanceFlag is the singleton maintenance-mode toggle.
type MaintenanceFlag struct {
	ID        string `db:"id" json:"id"`
	Enabled   bool   `db:"enabled" json:"enabled"`
	Reason    string `db:"reason" json:"reason"`
	EnabledBy string `db:"enabled_by" json:"enabled_by"`
	CreatedAt string `db:"created_at" json:"created_at"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

// Checkpoint is a named snapshot marker created by create_checkpoint.
type Checkpoint struct {
	ID           string `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	MetadataJSON string `db:"metadata" json:"-"`
	CreatedAt    string `db:"created_at" json:"created_at"`
}
