// Package models defines the data structures (structs) shared across the application.
// this package has no imports from other internal packages, making it the
// foundation of the dependency graph. other packages (store, orchestrator, handlers) import from it.
package models

import "time"

/*
PreviewStatus, PreviewKind, DatabaseEngine and ServiceStatus are all strings under the hood,
but giving each its own named type means the Go compiler will reject
`preview.Status = "typo"` if "typo" is not one of the declared constants.
Plain string fields give no such protection (type safety).
*/

// PreviewStatus represents the current lifecycle state of a preview environment.
type PreviewStatus string

// PreviewKind distinguishes a preview triggered by a pull request from one triggered by a branch push.
type PreviewKind string

// DatabaseEngine identifies which of the three supported provisioner backends a preview's database uses.
type DatabaseEngine string

// ServiceStatus tracks the lifecycle of a single container workload within a preview.
type ServiceStatus string

const (
	// StatusCreating means the orchestrator is still pulling images and starting containers for the first time.
	StatusCreating PreviewStatus = "CREATING"

	// StatusRunning means every service container is started and urls are populated.
	StatusRunning PreviewStatus = "RUNNING"

	// StatusUpdating means a redeploy is in progress: old containers are being replaced.
	StatusUpdating PreviewStatus = "UPDATING"

	// StatusDestroying means containers/database teardown is in progress.
	StatusDestroying PreviewStatus = "DESTROYING"

	// StatusDestroyed is terminal. the record becomes a tombstone, GC'd by the reconciler after 24h.
	StatusDestroyed PreviewStatus = "DESTROYED"

	// StatusFailed means a fatal error occurred during create (a failed update leaves the
	// record in UPDATING instead); the preview needs manual
	// attention or a Destroy call. the reconciler does not automatically retry a FAILED preview.
	StatusFailed PreviewStatus = "FAILED"
)

const (
	// KindPullRequest means previewId is derived as "pr-<N>".
	KindPullRequest PreviewKind = "pull_request"

	// KindBranch means previewId is derived as "branch-<sanitized-branch>".
	KindBranch PreviewKind = "branch"
)

const (
	// EngineRelationalA is the postgres-style engine: pooled admin session, terminate-then-drop semantics.
	EngineRelationalA DatabaseEngine = "relational-A"

	// EngineRelationalB is the mysql-style engine: CREATE/DROP DATABASE, semicolon-split migrations.
	EngineRelationalB DatabaseEngine = "relational-B"

	// EngineDocument is the document-store engine: implicit database creation, JSON seed documents.
	EngineDocument DatabaseEngine = "document"
)

const (
	ServiceBuilding ServiceStatus = "BUILDING"
	ServiceRunning  ServiceStatus = "RUNNING"
	ServiceStopped  ServiceStatus = "STOPPED"
	ServiceFailed   ServiceStatus = "FAILED"
)

// EventType categorizes a LifecycleEvent for filtering in the /logs endpoints.
type EventType string

const (
	EventBuild     EventType = "build"
	EventDeploy    EventType = "deploy"
	EventContainer EventType = "container"
	EventDatabase  EventType = "database"
	EventSystem    EventType = "system"
)

/*
Preview is the central data model for the application. it maps 1:1 to the previews
table in the metadata store and is the struct passed between the store layer, the
orchestrator, the reconciler, and the HTTP handlers.

`json` struct tags control how the Go struct is serialized/converted to JSON in HTTP responses.
`db` struct tags name the backing column in the metadata store's previews table.
`omitempty` on pointer fields means the key is omitted from JSON output when the value is nil,
which keeps API responses clean for fields that are not always populated.
*/
type Preview struct {
	// PreviewId is the canonical identifier: "pr-<N>" or "branch-<sanitized-branch>". see naming.PreviewID.
	PreviewId string `json:"previewId" db:"preview_id"`

	// OwnerId is the opaque identifier of the caller, taken from the bearer token. used by the quota gate.
	OwnerId string `json:"ownerId" db:"owner_id"`

	Kind PreviewKind `json:"kind" db:"kind"`

	// PullRequestNumber is present iff Kind == KindPullRequest.
	// why POINTER? a branch-triggered preview has no PR number at all, and Go does not allow
	// a nil value for a plain int, so a pointer is the only way to distinguish "zero" from "absent".
	PullRequestNumber *int `json:"pullRequestNumber,omitempty" db:"pull_request_number"`

	RepoOwner string `json:"repoOwner" db:"repo_owner"`
	RepoName  string `json:"repoName" db:"repo_name"`
	Branch    string `json:"branch" db:"branch"`
	CommitSha string `json:"commitSha" db:"commit_sha"`

	Status PreviewStatus `json:"status" db:"status"`

	// Services is the ordered set of container workloads belonging to this preview.
	// stored as a JSON-encoded TEXT column; see store package for the marshal/unmarshal boundary.
	Services []ServiceInstance `json:"services" db:"-"`

	// Database is nil when the preview config did not request one.
	Database *PreviewDatabase `json:"database,omitempty" db:"-"`

	// Urls maps service name -> external URL. kept in lockstep with Services[i].Url; see
	// the orchestrator invariant that urls[s.name] == s.url for every service s.
	Urls map[string]string `json:"urls" db:"-"`

	// Env is the user-supplied environment map, may contain unresolved magic-variable tokens
	// until the orchestrator resolves them per-container at deploy time. the persisted copy
	// keeps the original (possibly token-bearing) values so Update can re-resolve against fresh URLs.
	Env map[string]string `json:"env" db:"-"`

	// Password, if set, is bcrypt-hashed into each container's basic-auth label at deploy time.
	// stored in plaintext (see SPEC_FULL.md design notes on this open question) because the
	// labels must be regeneratable on Update without requiring the caller to resupply it.
	Password *string `json:"password,omitempty" db:"password"`

	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
	LastAccessedAt time.Time `json:"lastAccessedAt" db:"last_accessed_at"`
}

// ServiceInstance is one container workload belonging to a Preview.
type ServiceInstance struct {
	Name        string        `json:"name"`
	ContainerId string        `json:"containerId"`
	ImageTag    string        `json:"imageTag"`
	Port        int           `json:"port"`
	Url         string        `json:"url"`
	Status      ServiceStatus `json:"status"`
}

// PreviewDatabase describes the per-preview database provisioned by the database provisioner set.
type PreviewDatabase struct {
	Engine           DatabaseEngine `json:"engine"`
	Name             string         `json:"name"`
	ConnectionString string         `json:"connectionString"`
}

// LifecycleEvent is one append-only entry in the event log, keyed by preview.
type LifecycleEvent struct {
	Id int64 `json:"id" db:"id"`

	// PreviewRef is the previewId this event belongs to.
	PreviewRef string `json:"previewRef" db:"preview_ref"`

	// PullRequestNumber is copied from the owning preview at append time, for convenience filtering.
	PullRequestNumber *int `json:"pullRequestNumber,omitempty" db:"pull_request_number"`

	Type    EventType `json:"type" db:"type"`
	Message string    `json:"message" db:"message"`

	// Metadata is an optional JSON-encoded TEXT column, free-form per event type.
	Metadata *string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// PreviewConfig is the caller-supplied request body for POST /api/previews (create) and the
// equivalent payload for an in-place Update. it is not persisted verbatim; the orchestrator
// derives a Preview record from it.
type PreviewConfig struct {
	Kind PreviewKind `json:"kind"`

	// PullRequestNumber is required iff Kind == KindPullRequest.
	PullRequestNumber *int `json:"pullRequestNumber,omitempty"`

	RepoOwner string `json:"repoOwner"`
	RepoName  string `json:"repoName"`
	Branch    string `json:"branch"`
	CommitSha string `json:"commitSha"`

	Services map[string]ServiceConfig `json:"services"`

	Database *DatabaseConfig `json:"database,omitempty"`

	Env      map[string]string `json:"env,omitempty"`
	Password *string           `json:"password,omitempty"`
}

// ServiceConfig is one entry of PreviewConfig.Services.
type ServiceConfig struct {
	ImageTag string            `json:"imageTag"`
	Port     int               `json:"port,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// DatabaseConfig is the optional database block of PreviewConfig.
type DatabaseConfig struct {
	Engine     DatabaseEngine `json:"engine"`
	Migrations string         `json:"migrations,omitempty"`
}
