// Package orchestrator implements the preview lifecycle state machine described in
// SPEC_FULL.md §4.5: Create, Update, Destroy, and the magic-variable resolution that lets
// one service's URL flow into another service's environment at deploy time. this is the
// piece every other package in this module exists to serve -- the container runtime, the
// three database provisioners, the edge-router label generator, and the metadata store
// are all collaborators the orchestrator drives, never drivers of it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/previewd/previewd/apierror"
	"github.com/previewd/previewd/edgerouter"
	"github.com/previewd/previewd/metrics"
	"github.com/previewd/previewd/models"
	"github.com/previewd/previewd/naming"
	"github.com/previewd/previewd/provision"
	"github.com/previewd/previewd/runtime"
)

// MetadataStore is the subset of store.Store the orchestrator depends on. accepting an
// interface rather than the concrete type keeps orchestrator tests free of a real sqlite
// file.
type MetadataStore interface {
	CreatePreview(p *models.Preview) error
	GetPreview(previewId string) (*models.Preview, error)
	GetPreviewByPullRequest(pullRequestNumber int) (*models.Preview, error)
	SavePreview(p *models.Preview) error
	DeletePreview(previewId string) error
}

// EventLog is the subset of store.Store's event-log capability the orchestrator appends
// lifecycle events through.
type EventLog interface {
	AppendEvent(previewRef string, eventType models.EventType, message string, metadata map[string]any) error
}

// ContainerRuntime is the subset of runtime.Client the orchestrator drives.
type ContainerRuntime interface {
	PullImage(ctx context.Context, tag string, onProgress func(line string)) error
	CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, graceSeconds int) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	RemoveImage(ctx context.Context, tag string, force bool) error
}

// ProvisionerFactory is the subset of provision.Factory the orchestrator depends on.
type ProvisionerFactory interface {
	Get(ctx context.Context, engine models.DatabaseEngine) (provision.Provisioner, error)
}

// QuotaGate is the subset of quota.Gate the orchestrator consults before Create.
type QuotaGate interface {
	Check(owner string) error
}

// AccessTracker is the subset of accesstrack.Tracker the orchestrator uses to both record
// reads and backstop its in-process per-id lock across processes.
type AccessTracker interface {
	Touch(ctx context.Context, previewId string, when time.Time)
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Config carries the deployment-wide settings the orchestrator needs when computing
// hostnames and edge-router labels for every preview it creates or updates.
type Config struct {
	BaseDomain             string
	EdgeNetwork            string
	EnableTLS              bool
	CertResolver           string
	PasswordProtectDefault bool
	DefaultPreviewPassword string
}

// Orchestrator implements Create/Update/Destroy. one Orchestrator instance is shared
// across every incoming request and every reconciler tick; its only mutable state is the
// lazily-populated per-previewId lock table.
type Orchestrator struct {
	store     MetadataStore
	events    EventLog
	runtime   ContainerRuntime
	factory   ProvisionerFactory
	quota     QuotaGate
	access    AccessTracker
	logger    *slog.Logger
	cfg       Config
	locks     *keyMutex
	distLockTTL time.Duration
	metricsRecorder *metrics.Recorder
}

// SetMetrics attaches a metrics.Recorder so Create/Update/Destroy transitions are counted
// in orchestrator_transitions_total. optional: an Orchestrator with no recorder attached
// (the default, and the state every orchestrator test runs in) simply records nothing.
func (o *Orchestrator) SetMetrics(recorder *metrics.Recorder) {
	o.metricsRecorder = recorder
}

func (o *Orchestrator) recordTransition(transition, result string) {
	if o.metricsRecorder != nil {
		o.metricsRecorder.RecordTransition(transition, result)
	}
}

// New constructs an Orchestrator.
func New(store MetadataStore, events EventLog, rt ContainerRuntime, factory ProvisionerFactory, quota QuotaGate, access AccessTracker, logger *slog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:       store,
		events:      events,
		runtime:     rt,
		factory:     factory,
		quota:       quota,
		access:      access,
		logger:      logger,
		cfg:         cfg,
		locks:       newKeyMutex(),
		distLockTTL: 30 * time.Second,
	}
}

// Create provisions a brand new preview, or delegates to Update if a non-destroyed
// record with the derived id already exists -- per SPEC_FULL.md §4.5 step 2, Create is
// idempotent-by-delegation rather than failing a repeat call for the same branch/PR.
func (o *Orchestrator) Create(ctx context.Context, ownerId string, cfg models.PreviewConfig) (*models.Preview, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	previewId := derivePreviewID(cfg)

	unlock, err := o.acquireLock(ctx, previewId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := o.store.GetPreview(previewId)
	if err == nil && existing.Status != models.StatusDestroyed {
		return o.updateLocked(ctx, existing, cfg)
	}
	hasTombstone := err == nil

	if err := o.quota.Check(ownerId); err != nil {
		return nil, err
	}

	// a DESTROYED tombstone with the same id is replaced by the fresh record.
	if hasTombstone {
		if err := o.store.DeletePreview(previewId); err != nil {
			return nil, fmt.Errorf("%w: replace destroyed preview record %q: %v", apierror.ErrInternal, previewId, err)
		}
	}

	preview := &models.Preview{
		PreviewId:         previewId,
		OwnerId:           ownerId,
		Kind:              cfg.Kind,
		PullRequestNumber: cfg.PullRequestNumber,
		RepoOwner:         cfg.RepoOwner,
		RepoName:          cfg.RepoName,
		Branch:            cfg.Branch,
		CommitSha:         cfg.CommitSha,
		Status:            models.StatusCreating,
		Services:          []models.ServiceInstance{},
		Urls:              map[string]string{},
		Env:               cfg.Env,
		Password:          cfg.Password,
	}

	if err := o.store.CreatePreview(preview); err != nil {
		return nil, fmt.Errorf("%w: insert preview record %q: %v", apierror.ErrInternal, previewId, err)
	}
	o.emit(previewId, models.EventSystem, "Starting preview creation", nil)

	if cfg.Database != nil {
		if err := o.provisionDatabase(ctx, preview, cfg.Database); err != nil {
			o.fail(preview, err)
			return nil, err
		}
	}

	if err := o.deployServices(ctx, preview, cfg.Services); err != nil {
		o.fail(preview, err)
		return nil, err
	}

	preview.Status = models.StatusRunning
	now := time.Now().UTC()
	preview.LastAccessedAt = now
	if err := o.store.SavePreview(preview); err != nil {
		return nil, fmt.Errorf("%w: persist running preview %q: %v", apierror.ErrInternal, previewId, err)
	}

	o.recordTransition("create", "success")
	return preview, nil
}

// Update replaces every container of an existing preview with freshly deployed ones from
// a new config, reusing the provisioned database's connection string verbatim.
func (o *Orchestrator) Update(ctx context.Context, previewId string, cfg models.PreviewConfig) (*models.Preview, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	unlock, err := o.acquireLock(ctx, previewId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	preview, err := o.store.GetPreview(previewId)
	if err != nil {
		return nil, fmt.Errorf("%w: preview %q", apierror.ErrNotFound, previewId)
	}
	if preview.Status == models.StatusDestroyed {
		return nil, fmt.Errorf("%w: preview %q is destroyed", apierror.ErrNotFound, previewId)
	}

	return o.updateLocked(ctx, preview, cfg)
}

// updateLocked performs the body of Update assuming the caller already holds the
// per-previewId lock -- Create's delegation path calls this directly to avoid
// double-acquiring the same lock it is already holding.
func (o *Orchestrator) updateLocked(ctx context.Context, preview *models.Preview, cfg models.PreviewConfig) (*models.Preview, error) {
	preview.Status = models.StatusUpdating
	preview.CommitSha = cfg.CommitSha
	if err := o.store.SavePreview(preview); err != nil {
		return nil, fmt.Errorf("%w: persist updating preview %q: %v", apierror.ErrInternal, preview.PreviewId, err)
	}
	o.emit(preview.PreviewId, models.EventSystem, "Starting preview update", nil)

	for _, svc := range preview.Services {
		if err := o.runtime.StopContainer(ctx, svc.ContainerId, 10); err != nil {
			o.logger.Warn("failed to stop container during update, continuing", "preview_id", preview.PreviewId, "container_id", svc.ContainerId, "error", err)
		}
		if err := o.runtime.RemoveContainer(ctx, svc.ContainerId, true); err != nil {
			o.logger.Warn("failed to remove container during update, continuing", "preview_id", preview.PreviewId, "container_id", svc.ContainerId, "error", err)
		}
	}
	preview.Services = []models.ServiceInstance{}
	preview.Urls = map[string]string{}
	preview.Env = cfg.Env

	if err := o.deployServices(ctx, preview, cfg.Services); err != nil {
		preview.Status = models.StatusUpdating
		_ = o.store.SavePreview(preview)
		return nil, err
	}

	preview.Status = models.StatusRunning
	preview.LastAccessedAt = time.Now().UTC()
	if err := o.store.SavePreview(preview); err != nil {
		return nil, fmt.Errorf("%w: persist running preview %q: %v", apierror.ErrInternal, preview.PreviewId, err)
	}
	o.recordTransition("update", "success")
	return preview, nil
}

// Destroy tears down a preview's containers, database, and images, then marks the record
// DESTROYED. previewId must be the canonical previewId: a bare pull-request number passed
// here is looked up as a literal previewId. callers holding an identifier that may be a
// pull-request number (SPEC_FULL.md §9) resolve it with ResolveIdentifier first.
func (o *Orchestrator) Destroy(ctx context.Context, previewId string) error {
	unlock, err := o.acquireLock(ctx, previewId)
	if err != nil {
		return err
	}
	defer unlock()

	preview, err := o.store.GetPreview(previewId)
	if err != nil {
		// destroy is idempotent: a preview that is already gone is a success, not a failure.
		return nil
	}

	preview.Status = models.StatusDestroying
	_ = o.store.SavePreview(preview)
	o.emit(previewId, models.EventSystem, "Starting preview destruction", nil)

	for _, svc := range preview.Services {
		if err := o.runtime.StopContainer(ctx, svc.ContainerId, 10); err != nil {
			o.logger.Warn("failed to stop container during destroy, continuing", "preview_id", previewId, "container_id", svc.ContainerId, "error", err)
		}
		if err := o.runtime.RemoveContainer(ctx, svc.ContainerId, true); err != nil {
			o.logger.Warn("failed to remove container during destroy, continuing", "preview_id", previewId, "container_id", svc.ContainerId, "error", err)
		}
	}

	if preview.Database != nil {
		if err := o.destroyDatabase(ctx, preview); err != nil {
			o.logger.Warn("failed to destroy database during destroy, continuing", "preview_id", previewId, "error", err)
		}
	}

	for _, svc := range preview.Services {
		if err := o.runtime.RemoveImage(ctx, svc.ImageTag, true); err != nil {
			o.logger.Warn("failed to remove image during destroy, continuing", "preview_id", previewId, "image", svc.ImageTag, "error", err)
		}
	}

	preview.Status = models.StatusDestroyed
	if err := o.store.SavePreview(preview); err != nil {
		return fmt.Errorf("%w: persist destroyed preview %q: %v", apierror.ErrInternal, previewId, err)
	}
	o.emit(previewId, models.EventSystem, "Preview destroyed", nil)
	o.recordTransition("destroy", "success")
	return nil
}

// acquireLock takes both the in-process per-previewId mutex and, when Redis is
// configured, the distributed lock backstop described in SPEC_FULL.md §4.5a. the
// in-process lock is always taken first and released last, so goroutines of this process
// queue on the in-process mutex and only its holder contends for the distributed lock,
// which fails at once with ErrConflict when another process holds it.
func (o *Orchestrator) acquireLock(ctx context.Context, previewId string) (func(), error) {
	unlockLocal := o.locks.lock(previewId)

	releaseDistributed, err := o.access.Lock(ctx, previewId, o.distLockTTL)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("%w: %v", apierror.ErrConflict, err)
	}

	return func() {
		releaseDistributed()
		unlockLocal()
	}, nil
}

func (o *Orchestrator) fail(preview *models.Preview, cause error) {
	preview.Status = models.StatusFailed
	_ = o.store.SavePreview(preview)
	o.emit(preview.PreviewId, models.EventSystem, cause.Error(), nil)
	o.recordTransition("create_or_update", "error")
}

func (o *Orchestrator) emit(previewId string, eventType models.EventType, message string, metadata map[string]any) {
	if err := o.events.AppendEvent(previewId, eventType, message, metadata); err != nil {
		o.logger.Warn("failed to append lifecycle event", "preview_id", previewId, "error", err)
	}
}

func (o *Orchestrator) provisionDatabase(ctx context.Context, preview *models.Preview, dbCfg *models.DatabaseConfig) error {
	provisioner, err := o.factory.Get(ctx, dbCfg.Engine)
	if err != nil {
		return err
	}

	dbName := naming.DatabaseName(preview.PreviewId)
	connectionString, err := provisioner.CreateDatabase(ctx, preview.PreviewId, dbName)
	if err != nil {
		return fmt.Errorf("%w: %v", apierror.ErrProvision, err)
	}

	if dbCfg.Migrations != "" {
		if err := provisioner.RunMigrations(ctx, connectionString, dbCfg.Migrations); err != nil {
			return fmt.Errorf("%w: %v", apierror.ErrMigration, err)
		}
	}

	preview.Database = &models.PreviewDatabase{
		Engine:           dbCfg.Engine,
		Name:             dbName,
		ConnectionString: connectionString,
	}
	o.emit(preview.PreviewId, models.EventDatabase, fmt.Sprintf("Provisioned %s database %s", dbCfg.Engine, dbName), nil)
	return nil
}

func (o *Orchestrator) destroyDatabase(ctx context.Context, preview *models.Preview) error {
	provisioner, err := o.factory.Get(ctx, preview.Database.Engine)
	if err != nil {
		return err
	}
	return provisioner.DestroyDatabase(ctx, preview.PreviewId, preview.Database.Name)
}

// deployServices pulls the image of every service in cfg, one after another, and only
// then runs the resolve -> label -> create -> start sequence for each service, in
// deterministic name order, per SPEC_FULL.md §4.5 steps 7-9. service URLs are computed
// for every service before any container is created, so magic variables resolve
// identically no matter which service happens to start first.
func (o *Orchestrator) deployServices(ctx context.Context, preview *models.Preview, services map[string]models.ServiceConfig) error {
	names := sortedServiceNames(services)

	urls := make(map[string]string, len(names))
	for _, name := range names {
		host := naming.ExternalHost(preview.PreviewId, preview.RepoOwner, name, o.cfg.BaseDomain)
		urls[name] = edgerouter.ExternalURL(host, o.cfg.EnableTLS)
	}

	var databaseURL string
	if preview.Database != nil {
		databaseURL = preview.Database.ConnectionString
	}

	for _, name := range names {
		svcCfg := services[name]
		if err := o.runtime.PullImage(ctx, svcCfg.ImageTag, func(line string) {
			o.emit(preview.PreviewId, models.EventBuild, line, nil)
		}); err != nil {
			return fmt.Errorf("%w: pull image %q for service %q: %v", apierror.ErrRuntime, svcCfg.ImageTag, name, err)
		}
	}

	for _, name := range names {
		svcCfg := services[name]

		port := svcCfg.Port
		if port == 0 {
			port = 8080
		}

		env := buildServiceEnv(preview.Env, svcCfg.Env, databaseURL)
		env = resolveMagicVariables(env, databaseURL, urls)

		host := naming.ExternalHost(preview.PreviewId, preview.RepoOwner, name, o.cfg.BaseDomain)
		password := o.effectivePassword(preview)

		labels, err := edgerouter.Labels(edgerouter.Spec{
			RouterName:        preview.PreviewId + "-" + name,
			Host:              host,
			Port:              port,
			EnableTLS:         o.cfg.EnableTLS,
			CertResolver:      o.cfg.CertResolver,
			BasicAuthUser:     "preview",
			BasicAuthPassword: password,
			PreviewId:         preview.PreviewId,
			Owner:             preview.RepoOwner,
			Service:           name,
		})
		if err != nil {
			return fmt.Errorf("%w: compute edge-router labels for service %q: %v", apierror.ErrRuntime, name, err)
		}

		containerName := naming.ContainerName(preview.PreviewId, name)
		containerID, err := o.runtime.CreateContainer(ctx, runtime.ContainerSpec{
			Name:    containerName,
			Image:   svcCfg.ImageTag,
			Env:     envToList(env),
			Labels:  labels,
			Port:    port,
			Network: o.cfg.EdgeNetwork,
		})
		if err != nil {
			return fmt.Errorf("%w: create container for service %q: %v", apierror.ErrRuntime, name, err)
		}

		if err := o.runtime.StartContainer(ctx, containerID); err != nil {
			return fmt.Errorf("%w: start container for service %q: %v", apierror.ErrRuntime, name, err)
		}

		preview.Services = append(preview.Services, models.ServiceInstance{
			Name:        name,
			ContainerId: containerID,
			ImageTag:    svcCfg.ImageTag,
			Port:        port,
			Url:         urls[name],
			Status:      models.ServiceRunning,
		})
		preview.Urls[name] = urls[name]

		o.emit(preview.PreviewId, models.EventDeploy, fmt.Sprintf("Deployed service %q at %s", name, urls[name]), nil)
	}

	return nil
}

// effectivePassword returns the basic-auth password to enforce for preview, honoring the
// per-preview override first and falling back to the configured global default only when
// password protection is enabled by default and the caller did not supply one.
func (o *Orchestrator) effectivePassword(preview *models.Preview) string {
	if preview.Password != nil && *preview.Password != "" {
		return *preview.Password
	}
	if o.cfg.PasswordProtectDefault {
		return o.cfg.DefaultPreviewPassword
	}
	return ""
}

// buildServiceEnv merges preview-level env, DATABASE_URL (if a database is provisioned),
// and service-specific env, in that precedence order with later entries winning, per
// SPEC_FULL.md §4.5 step 9 ("base env ∪ DATABASE_URL if DB ∪ service-specific env, last
// wins").
func buildServiceEnv(baseEnv, serviceEnv map[string]string, databaseURL string) map[string]string {
	merged := make(map[string]string, len(baseEnv)+len(serviceEnv)+1)
	for k, v := range baseEnv {
		merged[k] = v
	}
	if databaseURL != "" {
		merged["DATABASE_URL"] = databaseURL
	}
	for k, v := range serviceEnv {
		merged[k] = v
	}
	return merged
}

// resolveMagicVariables replaces ${DATABASE_URL} and ${<SERVICE>_URL} tokens in every
// env value, textually and exactly once (no recursive expansion), per SPEC_FULL.md §4.5's
// magic-variable resolution rules. unknown tokens are left literal.
func resolveMagicVariables(env map[string]string, databaseURL string, serviceURLs map[string]string) map[string]string {
	resolved := make(map[string]string, len(env))
	for k, v := range env {
		resolved[k] = resolveMagicVariablesInValue(v, databaseURL, serviceURLs)
	}
	return resolved
}

func resolveMagicVariablesInValue(value, databaseURL string, serviceURLs map[string]string) string {
	replaced := strings.ReplaceAll(value, "${DATABASE_URL}", databaseURL)
	for service, url := range serviceURLs {
		token := "${" + strings.ToUpper(service) + "_URL}"
		replaced = strings.ReplaceAll(replaced, token, url)
	}
	return replaced
}

func envToList(env map[string]string) []string {
	names := make([]string, 0, len(env))
	for k := range env {
		names = append(names, k)
	}
	sort.Strings(names)

	list := make([]string, 0, len(env))
	for _, k := range names {
		list = append(list, k+"="+env[k])
	}
	return list
}

func sortedServiceNames(services map[string]models.ServiceConfig) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func derivePreviewID(cfg models.PreviewConfig) string {
	prNumber := 0
	if cfg.PullRequestNumber != nil {
		prNumber = *cfg.PullRequestNumber
	}
	return naming.PreviewID(string(cfg.Kind), prNumber, cfg.Branch)
}

func validateConfig(cfg models.PreviewConfig) error {
	if cfg.Kind != models.KindPullRequest && cfg.Kind != models.KindBranch {
		return fmt.Errorf("%w: kind must be %q or %q", apierror.ErrValidation, models.KindPullRequest, models.KindBranch)
	}
	if cfg.Kind == models.KindPullRequest && cfg.PullRequestNumber == nil {
		return fmt.Errorf("%w: pullRequestNumber is required when kind is pull_request", apierror.ErrValidation)
	}
	if cfg.RepoOwner == "" || cfg.RepoName == "" {
		return fmt.Errorf("%w: repoOwner and repoName are required", apierror.ErrValidation)
	}
	if len(cfg.Services) == 0 {
		return fmt.Errorf("%w: at least one service is required", apierror.ErrValidation)
	}
	for name, svc := range cfg.Services {
		if svc.ImageTag == "" {
			return fmt.Errorf("%w: service %q is missing imageTag", apierror.ErrValidation, name)
		}
	}
	return nil
}

// ResolveIdentifier looks up a preview by either its canonical previewId or, for
// backward compatibility with callers that only know a pull-request number, that bare
// number -- implementing the identifier-overloading decision recorded in SPEC_FULL.md §9
// (parse-by-attempt: try the numeric form first, fall back to a literal previewId
// lookup).
func ResolveIdentifier(store MetadataStore, identifier string) (*models.Preview, error) {
	if prNumber, err := parsePullRequestNumber(identifier); err == nil {
		preview, err := store.GetPreviewByPullRequest(prNumber)
		if err == nil {
			return preview, nil
		}
	}
	return store.GetPreview(identifier)
}

func parsePullRequestNumber(identifier string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(identifier, "%d", &n); err != nil {
		return 0, err
	}
	if fmt.Sprintf("%d", n) != identifier {
		return 0, fmt.Errorf("not a bare integer")
	}
	return n, nil
}
