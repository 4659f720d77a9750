// Command bootstrap populates AWS SSM Parameter Store with the secrets the
// decodr API resolves at boot through *_SSM_PARAM pointer variables.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=decodr-prod --print-pointers
//	go run ./cmd/ops/bootstrap --env=dev --export-env --export-env-path=.env
//
// Existing parameters are detected first and the operator chooses whether to
// keep or replace each one. Secret input is read without echo and values are
// never logged.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// session is the verified AWS identity the tool runs as.
type session struct {
	env       string
	region    string
	accountID string
	callerARN string
	awsConfig aws.Config
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	exportEnv := flag.Bool("export-env", false, "Write the stored parameters to a .env file for local development")
	exportPath := flag.String("export-env-path", ".env", "Path for --export-env")
	printPointers := flag.Bool("print-pointers", false, "Print the *_SSM_PARAM variables to configure on the deployed function")
	flag.Parse()

	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: --env must be one of dev, staging, prod\n\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := newSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	if sess.env == "prod" && !confirmProduction(sess) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		return
	}

	store := NewStore(ssm.NewFromConfig(sess.awsConfig), sess.env, logger)
	params := Inventory(NewChecker())

	runner := NewRunner(store, params, os.Stdin, os.Stderr)
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if *printPointers {
		out, err := PointerEnv(store, params)
		if err != nil {
			logger.Error("rendering pointer variables", "error", err)
			os.Exit(1)
		}
		fmt.Println(out)
	}

	if *exportEnv {
		if err := ExportEnv(ctx, store, params, *exportPath); err != nil {
			logger.Error("exporting .env", "error", err)
			os.Exit(1)
		}
		logger.Info(".env file written", "path", *exportPath)
	}
}

// newSession loads AWS configuration and confirms the caller identity with
// STS so bad credentials fail before any prompt.
func newSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(idCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (profile %q, region %q): %w", profile, region, err)
	}

	s := &session{
		env:       env,
		region:    region,
		accountID: aws.ToString(identity.Account),
		callerARN: aws.ToString(identity.Arn),
		awsConfig: cfg,
	}
	logger.Info("AWS identity verified",
		"account_id", s.accountID,
		"arn", s.callerARN,
		"region", region,
		"ssm_prefix", pathPrefix(env),
	)
	return s, nil
}

func confirmProduction(s *session) bool {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintf(os.Stderr, "  Account: %s\n  Region:  %s\n  ARN:     %s\n\n", s.accountID, s.region, s.callerARN)
	fmt.Fprint(os.Stderr, "Type 'yes' to continue: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}
