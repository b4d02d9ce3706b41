// Command server runs the credential issuance service: the HTTP API, the
// audit worker, and the status list consolidation job, all sharing one
// lifecycle.
package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"attest/internal/assembler"
	"attest/internal/consolidator"
	"attest/internal/credential"
	"attest/internal/issuance"
	"attest/internal/ledger"
	"attest/internal/metadata"
	"attest/internal/nonce"
	"attest/internal/platform/config"
	"attest/internal/platform/httpserver"
	"attest/internal/platform/logger"
	"attest/internal/platform/metrics"
	"attest/internal/platform/postgres"
	"attest/internal/platform/redis"
	"attest/internal/proof"
	"attest/internal/signer"
	"attest/internal/signing"
	"attest/internal/statuslist"
	"attest/internal/token"
	httptransport "attest/internal/transport/http"
	"attest/pkg/platform/audit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()

	// Audit pipeline: publisher -> worker -> store.
	var auditStore audit.Store
	if db != nil {
		auditStore = audit.NewPostgresStore(db)
	} else {
		auditStore = audit.NewMemoryStore()
	}
	sink := audit.NewPublisher(1024, log)
	auditWorker := audit.NewWorker(auditStore, sink.Inbox(), log)

	// Signing backend.
	var rawSigner signer.Signer
	if cfg.SigningServiceURL != "" {
		rawSigner = signing.NewHTTPSigner(cfg.SigningServiceURL, cfg.SigningKeyAppID, cfg.SigningKeyRefID)
	} else {
		local, pub, err := signing.GenerateLocalEd25519Signer()
		if err != nil {
			return err
		}
		log.Warn("no signing service configured, using ephemeral local key",
			"public_key", base64.RawURLEncoding.EncodeToString(pub))
		rawSigner = local
	}

	verificationMethod := cfg.VerificationMethod
	if verificationMethod == "" {
		verificationMethod = cfg.IssuerID + "#key-1"
	}
	signingMeta := credential.Metadata{
		CryptoSuite:        credential.CryptoSuite(cfg.CryptoSuite),
		SignAlgorithm:      cfg.SignAlgorithm,
		VerificationMethod: verificationMethod,
	}

	jsonldSigner := signer.NewJSONLDSigner(rawSigner)
	signers := signer.NewRegistry(
		jsonldSigner,
		signer.NewSDJWTSigner(rawSigner),
		signer.NewMdocSigner(rawSigner),
	)
	assemblers := assembler.NewRegistry(
		assembler.NewJSONLDAssembler(),
		assembler.NewSDJWTAssembler(),
		assembler.NewMsoMdocAssembler(),
	)

	listBaseURL := cfg.IssuerBaseURL + "/status-lists"
	builder := signer.NewStatusListBuilder(jsonldSigner, listBaseURL, signingMeta)

	// Stores: Postgres in production, memory fallbacks for local runs.
	var (
		listStore   statuslist.Store
		ledgerStore ledger.Store
		lease       consolidator.Lease
		watermark   consolidator.WatermarkStore
	)
	instance := uuid.NewString()
	if db != nil {
		listStore = statuslist.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		lease = consolidator.NewPostgresLease(db, instance)
		watermark = consolidator.NewPostgresWatermark(db)
	} else {
		log.Warn("no postgres configured, state is in-memory and non-durable")
		listStore = statuslist.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		lease = consolidator.NewMemoryLease(instance)
		watermark = consolidator.NewMemoryWatermark()
	}

	allocator, err := statuslist.NewAllocator(listStore, builder, cfg.IssuerID, listBaseURL,
		statuslist.WithLogger(log),
		statuslist.WithAuditPublisher(sink),
		statuslist.WithCapacity(cfg.StatusList.CapacityBits, cfg.StatusList.UsableCapacityPercent),
		statuslist.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	records, err := ledger.New(ledgerStore, listStore, builder,
		ledger.WithLogger(log),
		ledger.WithAuditPublisher(sink),
		ledger.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	var nonceStore nonce.Store
	if redisClient != nil {
		nonceStore = nonce.NewRedisStore(redisClient)
	} else {
		nonceStore = nonce.NewMemoryStore()
	}
	nonces, err := nonce.NewManager(nonceStore, cfg.Nonce.TTL, nonce.WithLogger(log))
	if err != nil {
		return err
	}

	source, err := metadataSource(cfg)
	if err != nil {
		return err
	}
	var cache metadata.Cache = metadata.NewMemoryCache()
	if redisClient != nil {
		cache = metadata.NewRedisCache(redisClient)
	}
	resolver := metadata.NewResolver(source,
		metadata.WithCache(cache, cfg.MetadataCacheTTL),
		metadata.WithLogger(log),
	)

	proofs := proof.NewRegistry(proof.NewJWTValidator(), proof.NewCWTValidator())

	issuer, err := issuance.New(nonces, proofs, resolver, assemblers, signers, allocator, records, cfg.IssuerID,
		issuance.WithLogger(log),
		issuance.WithAuditPublisher(sink),
		issuance.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	job, err := consolidator.New(ledgerStore, listStore, builder, lease, watermark,
		consolidator.WithLogger(log),
		consolidator.WithAuditPublisher(sink),
		consolidator.WithMetrics(m),
		consolidator.WithBatchSize(cfg.Consolidation.BatchSize),
		consolidator.WithEpoch(cfg.Consolidation.Epoch),
		consolidator.WithLeaseHold(cfg.Consolidation.LeaseMinHold, cfg.Consolidation.LeaseMaxHold),
	)
	if err != nil {
		return err
	}

	var tokens token.Verifier
	if cfg.IntrospectionURL != "" {
		tokens = token.NewIntrospectionVerifier(cfg.IntrospectionURL, cfg.IntrospectionClientID, cfg.IntrospectionClientSecret)
	} else {
		log.Warn("no introspection endpoint configured, all tokens will be rejected")
		tokens = token.NewStaticVerifier()
	}

	handler := httptransport.NewHandler(issuer, allocator, records, tokens, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return auditWorker.Run(gctx)
	})
	g.Go(func() error {
		return job.Start(gctx, cfg.Consolidation.Interval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func metadataSource(cfg config.Config) (metadata.Source, error) {
	if cfg.MetadataFile != "" {
		return metadata.LoadStaticSource(cfg.MetadataFile)
	}
	// Minimal default configuration so a bare local run can issue something.
	return metadata.NewStaticSource(credential.Metadata{
		ID:                   "vc-ldp-default",
		Scope:                "test_vc_ldp",
		Format:               credential.FormatLDPVC,
		CredentialType:       "TestCredential",
		SupportedProofTypes:  []credential.ProofType{credential.ProofTypeJWT, credential.ProofTypeCWT},
		SupportedSigningAlgs: []string{"ES256", "EdDSA"},
		StatusPurposes:       []credential.StatusPurpose{credential.PurposeRevocation},
		CryptoSuite:          credential.CryptoSuite(cfg.CryptoSuite),
		SignAlgorithm:        cfg.SignAlgorithm,
		VerificationMethod:   cfg.VerificationMethod,
		ValiditySeconds:      31536000,
	}), nil
}
