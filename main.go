package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/previewd/previewd/accesstrack"
	"github.com/previewd/previewd/config"
	"github.com/previewd/previewd/handlers"
	"github.com/previewd/previewd/metrics"
	"github.com/previewd/previewd/orchestrator"
	"github.com/previewd/previewd/provision"
	"github.com/previewd/previewd/quota"
	"github.com/previewd/previewd/reconciler"
	"github.com/previewd/previewd/runtime"
	"github.com/previewd/previewd/store"
)

func main() {
	appConfig := config.LoadAppConfig() // loads the config and stores pointer
	logger := appConfig.NewLogger()     // return a logger (slog) based on `LogFormat` (text or json)

	/*
		logger.Info() aka `slog.Logger.Info()` is just a glorified print
		The first argument is always the message (the human-readable part).
		Every argument after that must come in pairs: a Key (string) followed by a Value (any type).

		Different log levels in slog.
		Debug:	Extremely detailed info for dev (often hidden in production).
		Info:	General "heartbeat" events (starting up, stopping).
		Warn:	Something is weird, but the app is still running.
		Error:	Something broke (database connection failed, etc.).
	*/
	logger.Info("previewd control plane starting", // this log is level "Info"
		"port", appConfig.Port,
		"metadata_store_path", appConfig.MetadataStorePath,
		"log_format", appConfig.LogFormat,
	)

	// opening the metadata store and running schema migration (init tables).
	// if this fails, the application cannot serve requests, so exit immediately.
	metadataStore, err := store.Open(appConfig.MetadataStorePath, logger)
	if err != nil {
		// If the store cannot be opened or migrated, the application cannot function
		// and must "fail fast". the standard library's log.Fatalf is used here because
		// it synchronously writes to standard error before forcing an os.Exit(1),
		// guaranteeing the crash reason is printed to the console. (Using a structured
		// logger followed by os.Exit() risks losing the final log entry if the logger
		// buffers its output, which they usually do).
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer metadataStore.Close() // close db conn when main() exits

	// Docker client setup -- every preview's containers are created, started, stopped,
	// and removed through this one client.
	runtimeClient, err := runtime.NewClient(logger)
	if err != nil {
		log.Fatalf("failed to connect to docker daemon: %v", err)
	}
	defer runtimeClient.Close()

	// the database-provisioner factory lazily opens one pooled admin connection per
	// engine (relational-A, relational-B, document) the first preview that needs it
	// requests, per SPEC_FULL.md §4.3.
	provisionerFactory := provision.NewFactory(appConfig)
	defer provisionerFactory.CloseAll()

	quotaGate := quota.NewGate(metadataStore, appConfig.MaxPreviewsPerOwner)

	// Redis is optional. when REDIS_URL is unset, redisClient stays nil and
	// accesstrack.New degrades every touch/lock operation to in-process-only behavior,
	// per SPEC_FULL.md §4.5a.
	var redisClient *redis.Client
	if appConfig.RedisURL != "" {
		opts, err := redis.ParseURL(appConfig.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	accessTracker := accesstrack.New(redisClient, metadataStore, logger)

	orchestratorConfig := orchestrator.Config{
		BaseDomain:             appConfig.BaseDomain,
		EdgeNetwork:            appConfig.EdgeNetwork,
		EnableTLS:              appConfig.EnableTLS,
		CertResolver:           "letsencrypt",
		PasswordProtectDefault: appConfig.PasswordProtectDefault,
		DefaultPreviewPassword: appConfig.DefaultPreviewPassword,
	}
	previewOrchestrator := orchestrator.New(
		metadataStore, metadataStore, runtimeClient, provisionerFactory, quotaGate, accessTracker, logger, orchestratorConfig,
	)

	metricsRecorder := metrics.New()
	previewOrchestrator.SetMetrics(metricsRecorder)

	reconcilerConfig := reconciler.Config{
		Interval:           time.Duration(appConfig.ReconcileIntervalMinutes) * time.Minute,
		IdleTimeout:        time.Duration(appConfig.IdleTimeoutHours) * time.Hour,
		TombstoneRetention: 24 * time.Hour,
		EventRetentionDays: 30,
		MaxPreviewsGlobal:  -1,
	}
	backgroundReconciler := reconciler.New(metadataStore, runtimeClient, previewOrchestrator, accessTracker, logger, reconcilerConfig)
	backgroundReconciler.SetMetrics(metricsRecorder)

	reconcilerContext, cancelReconciler := context.WithCancel(context.Background())
	defer cancelReconciler()
	if err := backgroundReconciler.Start(reconcilerContext); err != nil {
		log.Fatalf("failed to start reconciler: %v", err)
	}
	defer backgroundReconciler.Stop()

	// Router setup

	router := handlers.CreateAndSetupRouter(handlers.RouterDependencies{
		Logger:               logger,
		Store:                metadataStore,
		Orchestrator:         previewOrchestrator,
		Access:               accessTracker,
		Metrics:              metricsRecorder,
		AllowedOrigin:        appConfig.AllowedOrigin,
		TokenSigningSecret:   appConfig.TokenSigningSecret,
		WebhookSigningSecret: appConfig.WebhookSigningSecret,
	})

	// --- HTTP server construction ---

	// Explicit HTTP Server Instantiation:
	// The standard library's http.ListenAndServe is a convenience function that
	// init http.Server struct with infinite timeouts by default, and call ListenAndServe() under the hood.
	// To ensure production stability, the http.Server struct must be instantiated
	// manually, allowing the application to override the default zero-values
	// with strict, finite deadlines for network operations.
	//
	// ReadTimeout enforces a hard deadline for the client to transmit the
	// entire HTTP request within a set time, mitigating Slowloris resource exhaustion attacks.
	// WriteTimeout caps the time the server spends attempting to transmit
	// the response to a slow client (1 byte per hour download speed)
	// IdleTimeout limits how long an inactive keep-alive TCP connection remains open before the server reclaims
	// the underlying file descriptor (drops connection)
	server := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- graceful shutdown ---
	// the server runs in a goroutine so the main goroutine can block on the signal channel.
	// when an OS signal (SIGINT from Ctrl+C or SIGTERM from Docker stop) is received,
	// the server is given a 10-second window to finish in-flight requests before it exits.
	// this prevents requests from being dropped mid-flight during restarts or container shutdowns.

	// Goroutines and Non-Blocking Execution:
	// The http.Server.ListenAndServe() method is a blocking operation (cannot execute further lines) that runs
	// indefinitely. To allow the main application thread to continue executing the code lines below
	// and listen for OS termination signals (sigterm/sigkill), the server is wrapped in an
	// anonymous function and executed as a background goroutine using the 'go' keyword.

	// Channel Communication:
	// A buffered channel (shutdownChannel) of capacity 1 is created to facilitate
	// safe communication between the background server goroutine and the main thread.
	// It is like a pipe that connect 2 goroutines together, allowing them to send messages (data)
	// to each other without sharing memory directly.
	// If the server encounters a fatal error, it transmits the error through
	// this channel (pipe) before terminating.
	shutdownChannel := make(chan error, 1) // data type = `chan error`

	go func() {
		logger.Info("http server listening", "addr", server.Addr)

		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			// ListenAndServe always returns an error (non-null) when it stops.
			// http.ErrServerClosed is the expected error on graceful shutdown, so it is filtered out.
			shutdownChannel <- err
		}
		close(shutdownChannel)
	}()

	// block until an OS interrupt or termination signal is received
	signalChannel := make(chan os.Signal, 1)

	// Operating System Signal Notification:
	// The signal.Notify function bridges OS-level interrupts with Go channels.
	// It instructs the Go runtime to intercept specific system calls (e.g., SIGINT
	// from terminal interrupts or SIGTERM from container orchestrators like Docker or K8n) and relay
	// them into the provided signalChannel, allowing the application to react
	// programmatically to external termination requests.
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("startup complete, server ready to serve", "port", appConfig.Port)

	// Concurrent Channel Multiplexing `select{ }`:
	// The select{} statement is used to wait on multiple channel operations simultaneously.
	// Unlike sequential channel reads ( `sig := <-signalChannel; if sig == syscall.SIGINT { ... }` )
	// which block execution indefinitely on a single channel, select{} blocks until
	// something comes out from one of the channels it is monitoring, then executes the corresponding case.
	// This allows the main thread to concurrently monitor for both unexpected server crashes
	// (shutdownChannel) and deliberate OS termination signals (signalChannel).
	select {
	case sig := <-signalChannel:
		logger.Info("shutdown signal received", "signal", sig)
	case err := <-shutdownChannel:
		if err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}
	// This select block effectively puts the main goroutine to sleep,
	// waiting for either a termination signal from the OS (like Ctrl+C) or an unexpected server error.
	// The server.Shutdown() method is only reached after the preceding select
	// block unblocks (due to a termination signal or fatal error). It takes the
	// timeout context as an argument, forcing the server to gracefully close
	// active connections within the defined deadline before returning.

	// Context-Driven Graceful Shutdown:
	// To prevent in-flight requests from being abruptly dropped during termination,
	// a context with a strict 10-second timeout is generated. Passing this context
	// to server.Shutdown() instructs the server to stop accepting new connections
	// while allowing active connections a finite grace period (10s in this case) to complete their
	// responses before the process forces an exit.
	shutdownContext, cancelShutdownContext := context.WithTimeout(context.Background(), 10*time.Second)

	// Context Cancellation and Goroutine Leaks:
	// The context.WithTimeout function spawns a background goroutine (another thread) to track
	// the countdown timer. The cancel function does not cancel the shutdown of the server. It is
	// canceling the 10-second timer attached to the Context, if the shutdown finishes before the 10 seconds.
	// The returned cancel function must be called (typically
	// via defer) to release these resources. Even at the termination of main()
	// where the OS reclaims all memory, calling cancel is a required Go idiom
	// to satisfy standard linter checks and prevent theoretical goroutine leaks.
	defer cancelShutdownContext()

	err = server.Shutdown(shutdownContext) // executing the shutdown
	if err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("server shut down cleanly")
	}

}

// Channel Datatype and Memory Management:
// Under the hood, a Go channel is a thread-safe FIFO queue (represented
// by the runtime 'hchan' struct) that utilizes mutexes to prevent data
// races between concurrent goroutines. While channels can be explicitly
// closed using the close() function, doing so is strictly a communication
// signal to receivers indicating no further data will be sent. It is not
// required for memory management, as the Go garbage collector automatically
// reclaims unreachable channels.

// Channels are unbuffered by default (capacity 0), enforcing strict
// synchronous handoffs between sending and receiving goroutines. Buffered
// channels (e.g., make(chan Type, capacity)) decouple the sender and
// receiver, allowing the sender to queue multiple items without blocking,
// which is highly effective for asynchronous worker-pool architectures.

// The make() Initialization Function:
// The make() built-in function is exclusively utilized to allocate and
// initialize channels, maps, and slices. Unlike the new() function which
// simply returns a pointer to zeroed memory, make() constructs the complex
// underlying internal data structures (such as hash buckets or mutex queues)
// required by these dynamically-sized types.
