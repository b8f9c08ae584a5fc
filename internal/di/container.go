package di

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/plate-market/api/internal/platform/cache"
	"github.com/plate-market/api/internal/platform/config"
	pfirestore "github.com/plate-market/api/internal/platform/firestore"
	"github.com/plate-market/api/internal/platform/jobs"
	"github.com/plate-market/api/internal/platform/observability"
	"github.com/plate-market/api/internal/platform/storage"
	"github.com/plate-market/api/internal/render"
	"github.com/plate-market/api/internal/repositories"
	firestoreRepo "github.com/plate-market/api/internal/repositories/firestore"
	"github.com/plate-market/api/internal/services"
)

// ManifestObject is the optional asset manifest read from the asset root.
// The compiled-in manifest applies when it is absent.
const ManifestObject = "manifest.yaml"

// Render cache backends accepted in Cache.Backend.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

const dependencyCheckTimeout = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Render    services.PlateRenderService
	Migration services.PlateMigrationService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Pipeline services.RenderPipeline
	Cache    *render.RenderCache
	Services Services

	closers []func(context.Context) error
}

type options struct {
	assets        render.AssetSource
	manifest      *render.Manifest
	plates        repositories.PlateRepository
	uploader      services.ImageUploader
	publisher     services.RegenerationPublisher
	store         render.RenderStore
	storageClient *gcs.Client
	logger        *zap.Logger
	meterProvider metric.MeterProvider
	build         services.BuildInfo
	clock         func() time.Time
}

// Option customises NewContainer. Injected collaborators replace the cloud-backed defaults.
type Option func(*options)

// WithAssetSource overrides where fonts and templates are read from.
func WithAssetSource(source render.AssetSource) Option {
	return func(o *options) {
		o.assets = source
	}
}

// WithManifest pins the asset manifest instead of reading ManifestObject.
func WithManifest(manifest render.Manifest) Option {
	return func(o *options) {
		o.manifest = &manifest
	}
}

func WithPlateRepository(repo repositories.PlateRepository) Option {
	return func(o *options) {
		o.plates = repo
	}
}

func WithImageUploader(uploader services.ImageUploader) Option {
	return func(o *options) {
		o.uploader = uploader
	}
}

func WithRegenerationPublisher(publisher services.RegenerationPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithRenderStore overrides the preview cache backend selected by Cache.Backend.
func WithRenderStore(store render.RenderStore) Option {
	return func(o *options) {
		o.store = store
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = provider
	}
}

func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Cloud clients are only dialled for
// collaborators the caller did not inject.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := collectOptions(opts)
	c := &Container{Config: cfg, Logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	metrics, err := observability.NewMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("di: register metrics: %w", err)
	}
	c.Metrics = metrics

	var checks []repositories.DependencyCheck

	pipeline, err := c.buildPipeline(ctx, &o)
	if err != nil {
		return nil, err
	}
	c.Pipeline = pipeline
	checks = append(checks, repositories.DependencyCheck{
		Name:     "fonts",
		Critical: true,
		Check: func(context.Context) error {
			if !pipeline.Fonts.Loaded() {
				return errors.New("fonts are still loading")
			}
			if pipeline.Fonts.Usable() == 0 {
				return errors.New("no font face could be loaded")
			}
			return nil
		},
	})

	store, storeCheck, err := c.buildRenderStore(&o)
	if err != nil {
		return nil, err
	}
	if store != nil {
		c.Cache = render.NewRenderCache(render.RenderCacheDeps{
			Store:  store,
			Logger: observability.EventLogger(o.logger.Named("render_cache")),
		})
	}
	if storeCheck != nil {
		checks = append(checks, *storeCheck)
	}

	renderSvc, err := services.NewPlateRenderService(services.PlateRenderServiceDeps{
		Pipeline:     pipeline,
		Cache:        c.Cache,
		PreviewWidth: cfg.Render.PreviewWidth,
		ExportWidth:  cfg.Render.ExportWidth,
		Supersample:  cfg.Render.Supersample,
		JPEGQuality:  cfg.Render.JPEGQuality,
		Metrics:      metrics,
		Clock:        o.clock,
		Logger:       observability.EventLogger(o.logger.Named("render")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build render service: %w", err)
	}
	c.Services.Render = renderSvc

	plates, plateCheck, err := c.buildPlateRepository(&o)
	if err != nil {
		return nil, err
	}
	if plateCheck != nil {
		checks = append(checks, *plateCheck)
	}
	uploader, err := c.buildUploader(ctx, &o)
	if err != nil {
		return nil, err
	}
	publisher, err := c.buildPublisher(ctx, &o)
	if err != nil {
		return nil, err
	}
	format, err := render.ParseFormat(cfg.Render.MigrationFormat)
	if err != nil {
		return nil, fmt.Errorf("di: migration format: %w", err)
	}

	migrationSvc, err := services.NewPlateMigrationService(services.PlateMigrationServiceDeps{
		Pipeline:    pipeline,
		Plates:      plates,
		Uploader:    uploader,
		Publisher:   publisher,
		Folder:      cfg.Storage.PlatesFolder,
		Width:       cfg.Render.ExportWidth,
		Format:      format,
		JPEGQuality: cfg.Render.JPEGQuality,
		Metrics:     metrics,
		Clock:       o.clock,
		Logger:      observability.EventLogger(o.logger.Named("migration")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build migration service: %w", err)
	}
	c.Services.Migration = migrationSvc

	healthRepo, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyTimeout(dependencyCheckTimeout),
		repositories.WithDependencyClock(o.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("di: build health checks: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Fonts:            pipeline.Fonts,
		Clock:            o.clock,
		Build:            o.build,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build system service: %w", err)
	}
	c.Services.System = systemSvc

	ok = true
	return c, nil
}

// NewPipeline assembles only the render engine for tools that never touch Firestore
// or uploads. The returned close func releases any storage client it dialled.
func NewPipeline(ctx context.Context, cfg config.Config, opts ...Option) (services.RenderPipeline, func(context.Context) error, error) {
	o := collectOptions(opts)
	c := &Container{Config: cfg, Logger: o.logger}
	pipeline, err := c.buildPipeline(ctx, &o)
	if err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return services.RenderPipeline{}, nil, err
	}
	return pipeline, c.Close, nil
}

func collectOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WarmFonts starts the font load pass and waits for it within the configured timeout.
func (c *Container) WarmFonts(ctx context.Context) error {
	if c == nil || c.Pipeline.Fonts == nil {
		return errors.New("di: font provisioner not initialised")
	}
	if timeout := c.Config.Render.FontLoadTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Pipeline.Fonts.EnsureLoaded(ctx)
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) buildPipeline(ctx context.Context, o *options) (services.RenderPipeline, error) {
	source := o.assets
	if source == nil {
		var err error
		source, err = c.defaultAssetSource(ctx, o)
		if err != nil {
			return services.RenderPipeline{}, err
		}
	}

	manifest, err := loadManifest(ctx, source, o.manifest)
	if err != nil {
		return services.RenderPipeline{}, err
	}

	renderLogger := observability.EventLogger(o.logger.Named("render"))
	fonts, err := render.NewFontProvisioner(render.FontProvisionerDeps{
		Source:      source,
		Fonts:       manifest.Fonts,
		Concurrency: c.Config.Render.FontConcurrency,
		LoadTimeout: c.Config.Render.FontLoadTimeout,
		Logger:      renderLogger,
	})
	if err != nil {
		return services.RenderPipeline{}, fmt.Errorf("di: font provisioner: %w", err)
	}
	templates, err := render.NewTemplateCache(render.TemplateCacheDeps{
		Source:    source,
		Templates: manifest.Templates,
		Logger:    renderLogger,
	})
	if err != nil {
		return services.RenderPipeline{}, fmt.Errorf("di: template cache: %w", err)
	}
	compositor, err := render.NewCompositor(render.CompositorDeps{Fonts: fonts})
	if err != nil {
		return services.RenderPipeline{}, fmt.Errorf("di: compositor: %w", err)
	}

	return services.RenderPipeline{
		Registry:   render.DefaultRegistry(),
		Fonts:      fonts,
		Templates:  templates,
		Compositor: compositor,
	}, nil
}

func (c *Container) defaultAssetSource(ctx context.Context, o *options) (render.AssetSource, error) {
	bucket := strings.TrimSpace(c.Config.Storage.AssetsBucket)
	if bucket == "" {
		return render.FSSource{FS: os.DirFS(c.Config.Storage.AssetsDir)}, nil
	}
	client, err := c.storage(ctx, o)
	if err != nil {
		return nil, err
	}
	source, err := storage.NewBucketSource(client, bucket, c.Config.Storage.AssetsPrefix)
	if err != nil {
		return nil, fmt.Errorf("di: asset bucket: %w", err)
	}
	return source, nil
}

func loadManifest(ctx context.Context, source render.AssetSource, pinned *render.Manifest) (render.Manifest, error) {
	if pinned != nil {
		return *pinned, nil
	}
	data, err := source.ReadFile(ctx, ManifestObject)
	switch {
	case errors.Is(err, render.ErrAssetNotFound), errors.Is(err, fs.ErrNotExist):
		return render.DefaultManifest(), nil
	case err != nil:
		return render.Manifest{}, fmt.Errorf("di: read asset manifest: %w", err)
	}
	manifest, err := render.ParseManifest(data)
	if err != nil {
		return render.Manifest{}, fmt.Errorf("di: %w", err)
	}
	return manifest, nil
}

func (c *Container) buildRenderStore(o *options) (render.RenderStore, *repositories.DependencyCheck, error) {
	if o.store != nil {
		return o.store, nil, nil
	}
	switch c.Config.Cache.Backend {
	case CacheBackendNone:
		return nil, nil, nil
	case "", CacheBackendMemory:
		return render.NewMemoryStore(c.Config.Cache.TTL), nil, nil
	case CacheBackendRedis:
		client, err := cache.NewRedisClient(c.Config.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("di: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })
		store, err := cache.NewRedisStore(client, c.Config.Cache.KeyPrefix, c.Config.Cache.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("di: %w", err)
		}
		return store, &repositories.DependencyCheck{
			Name:  "redis",
			Check: store.Ping,
		}, nil
	default:
		return nil, nil, fmt.Errorf("di: unknown cache backend %q", c.Config.Cache.Backend)
	}
}

func (c *Container) buildPlateRepository(o *options) (repositories.PlateRepository, *repositories.DependencyCheck, error) {
	if o.plates != nil {
		return o.plates, nil, nil
	}
	provider := pfirestore.NewProvider(c.Config.Firestore, pfirestore.WithDialTimeout(c.Config.Firestore.DialTimeout))
	c.onClose(provider.Close)
	repo, err := firestoreRepo.NewPlateRepository(provider, c.Config.Firestore.PlatesCollection)
	if err != nil {
		return nil, nil, fmt.Errorf("di: plate repository: %w", err)
	}
	collection := c.Config.Firestore.PlatesCollection
	return repo, &repositories.DependencyCheck{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			return pingCollection(ctx, client, collection)
		},
	}, nil
}

func pingCollection(ctx context.Context, client *firestore.Client, collection string) error {
	iter := client.Collection(collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (c *Container) buildUploader(ctx context.Context, o *options) (services.ImageUploader, error) {
	if o.uploader != nil {
		return o.uploader, nil
	}
	client, err := c.storage(ctx, o)
	if err != nil {
		return nil, err
	}
	uploader, err := storage.NewBucketUploader(client, c.Config.Storage.PlatesBucket,
		storage.WithPublicBaseURL(c.Config.Storage.PublicBaseURL),
		storage.WithCacheControl(c.Config.Storage.CacheControl),
	)
	if err != nil {
		return nil, fmt.Errorf("di: plate image uploader: %w", err)
	}
	return uploader, nil
}

func (c *Container) buildPublisher(ctx context.Context, o *options) (services.RegenerationPublisher, error) {
	if o.publisher != nil {
		return o.publisher, nil
	}
	topicName := strings.TrimSpace(c.Config.Events.RegeneratedTopic)
	if topicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, c.Config.Events.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("di: pubsub client: %w", err)
	}
	c.onClose(func(context.Context) error { return client.Close() })
	publisher, err := jobs.NewPubSubRegenerationPublisher(client.Topic(topicName))
	if err != nil {
		return nil, fmt.Errorf("di: %w", err)
	}
	c.onClose(func(context.Context) error {
		publisher.Stop()
		return nil
	})
	return publisher, nil
}

// storage lazily dials one Cloud Storage client shared by assets and uploads.
func (c *Container) storage(ctx context.Context, o *options) (*gcs.Client, error) {
	if o.storageClient != nil {
		return o.storageClient, nil
	}
	var clientOpts []option.ClientOption
	if creds := strings.TrimSpace(c.Config.Storage.CredentialsJSON); creds != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(creds)))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("di: storage client: %w", err)
	}
	o.storageClient = client
	c.onClose(func(context.Context) error { return client.Close() })
	return client, nil
}
