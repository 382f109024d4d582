// Package main is the C1 CLI entrypoint: flag/env/preset resolution
// (internal/config), wiring every component (auth, backends, search,
// tool dispatch) and starting the stdio or HTTP session loop. Grounded
// on cmd/cli/cmd/main.go's cobra rootCmd pattern and
// services/anchor/cmd/main.go's signal.NotifyContext shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/spf13/cobra"

	"github.com/quiltdata/quilt-mcp-server/internal/auth"
	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/backend/graphql"
	"github.com/quiltdata/quilt-mcp-server/internal/backend/sdk"
	quiltconfig "github.com/quiltdata/quilt-mcp-server/internal/config"
	dps3 "github.com/quiltdata/quilt-mcp-server/internal/dataplane/s3"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/search"
	"github.com/quiltdata/quilt-mcp-server/internal/tools"
	"github.com/quiltdata/quilt-mcp-server/internal/transport"
	"github.com/quiltdata/quilt-mcp-server/pkg/health"
	"github.com/quiltdata/quilt-mcp-server/pkg/keyring"
	"github.com/quiltdata/quilt-mcp-server/pkg/logger"
)

const serviceVersion = "0.1.0"

var flags quiltconfig.Flags

var rootCmd = &cobra.Command{
	Use:   "quilt-mcp-server",
	Short: "Quilt MCP server",
	Long:  "A Model Context Protocol server brokering tool-oriented access to a Quilt data catalog over S3, Athena, Elasticsearch, and the catalog's GraphQL API.",
	RunE:  runServer,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flags.Deployment, "deployment", "", "deployment preset: remote, local, legacy (default: local)")
	f.StringVar(&flags.Backend, "backend", "", "backend override: direct, graphql")
	f.StringVar(&flags.Transport, "transport", "", "transport override: stdio, http")
	f.StringVar(&flags.CatalogURL, "catalog-url", "", "Quilt catalog base URL (required for the graphql backend)")
	f.StringVar(&flags.RegistryURL, "registry-url", "", "default package registry (s3://bucket)")
	f.BoolVar(&flags.RequireJWT, "require-jwt", false, "reject requests without a bearer token")
	f.StringVar(&flags.JWTSecret, "jwt-secret", "", "HS256 shared secret for bearer-token verification")
	f.StringVar(&flags.JWTSecretParam, "jwt-secret-param", "", "parameter-store name holding the HS256 secret")
	f.IntVar(&flags.ServiceTimeout, "service-timeout", 0, "per-request downstream timeout in seconds (default 60)")
	f.BoolVar(&flags.SkipBanner, "skip-banner", false, "suppress the startup banner")

	rootCmd.PersistentFlags().Lookup("require-jwt").NoOptDefVal = "true"
	rootCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		flags.RequireJWTSet = cmd.Flags().Changed("require-jwt")
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a runtime failure to the process exit codes of
// spec §6: 0 clean shutdown, 1 unrecoverable runtime error, 2
// configuration invalid, 130 external interrupt.
func exitCodeFor(err error) int {
	if err == context.Canceled {
		return 130
	}
	if _, ok := err.(*configError); ok {
		return 2
	}
	return 1
}

type configError struct{ err error }

func (c *configError) Error() string { return c.err.Error() }
func (c *configError) Unwrap() error { return c.err }

func runServer(cmd *cobra.Command, args []string) error {
	resolved, err := quiltconfig.Resolve(flags)
	if err != nil {
		return &configError{err}
	}

	log := logger.New("quilt-mcp-server", serviceVersion)
	if !resolved.SkipBanner {
		fmt.Fprintf(os.Stderr, "quilt-mcp-server %s  deployment=%s backend=%s transport=%s\n",
			serviceVersion, resolved.Deployment, resolved.Backend, resolved.Transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: time.Duration(resolved.ServiceTimeout) * time.Second}

	verifier := auth.NewVerifier(auth.SecretSource{
		Secret:      resolved.JWTSecret,
		SecretParam: resolved.JWTSecretParam,
	})
	exchanger := auth.NewCredentialExchanger(httpClient, log, resolved.RequireJWT)
	if resolved.Deployment == model.DeploymentLocal || resolved.Deployment == model.DeploymentLegacy {
		km := keyring.NewKeyringManager(keyring.GetDefaultKeyringPath(), keyring.GetMasterPasswordFromEnv())
		exchanger = exchanger.WithLocalKeyring(km)
	}

	s3Options := dps3.ClientOptions{}
	searchEngine := &search.Engine{
		HTTPClient: httpClient,
		CatalogURL: resolved.CatalogURL,
	}
	if os.Getenv("QUILT_ELASTICSEARCH_URL") != "" {
		osClient, err := opensearch.NewClient(opensearch.Config{Addresses: []string{os.Getenv("QUILT_ELASTICSEARCH_URL")}})
		if err != nil {
			log.Warnf("elasticsearch client not configured: %v", err)
		} else {
			searchEngine.OpenSearch = osClient
			searchEngine.OpenSearchIndex = envOr("QUILT_ELASTICSEARCH_INDEX", "quilt_packages")
		}
	}
	if ambientS3, err := ambientS3Client(ctx); err == nil {
		searchEngine.S3Client = ambientS3
	}

	direct := sdk.New(func(ctx context.Context, rc *model.RequestContext) (*awss3.Client, error) {
		return dps3.NewClient(ctx, rc.Credentials, s3Options)
	}, "", os.Getenv("AWS_REGION"), searchEngine)
	graphqlBackend := graphql.New(httpClient, searchEngine)
	factory := backend.NewFactory(direct, graphqlBackend)

	registry := tools.NewRegistry()
	toolHandler := tools.NewHandler(registry, factory, exchanger, httpClient, resolved.CatalogURL, time.Duration(resolved.ServiceTimeout)*time.Second, log, resolved.RequireJWT)
	toolHandler.S3Options = s3Options

	healthChecker := health.NewChecker()
	healthChecker.RunCheck("config", func() error { return nil })

	server := transport.NewServer(resolved, verifier, exchanger, toolHandler, healthChecker, log)

	switch resolved.Transport {
	case model.TransportStdio:
		return server.RunStdio(ctx)
	case model.TransportHTTP:
		return runHTTP(ctx, server, log)
	default:
		return &configError{fmt.Errorf("unsupported transport: %s", resolved.Transport)}
	}
}

func runHTTP(ctx context.Context, server *transport.Server, log *logger.Logger) error {
	addr := envOr("PORT", "8000")
	if addr[0] != ':' {
		addr = ":" + addr
	}
	httpServer := &http.Server{Addr: addr, Handler: server.HTTPHandler()}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// ambientS3Client builds an S3 client from the process's own ambient
// AWS credentials, used only for the search engine's S3 fallback
// (spec §4.6), never for a per-request credentialed operation.
func ambientS3Client(ctx context.Context) (*awss3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return awss3.NewFromConfig(cfg), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
