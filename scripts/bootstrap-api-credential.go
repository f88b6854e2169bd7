package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

type output struct {
	AccountID    string `json:"account_id"`
	Email        string `json:"email"`
	CredentialID string `json:"credential_id"`
	Key          string `json:"key"`
	KeyPrefix    string `json:"key_prefix"`
	LicenseKey   string `json:"license_key,omitempty"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", "system@keygate.local", "Account email")
		accountName = flag.String("account-name", "System", "Account display name")
		name        = flag.String("name", "bootstrap", "Credential name")
		environment = flag.String("env", auth.EnvLive, "Credential environment (live or test)")
		seedDemo    = flag.Bool("seed-demo", false, "Also create a demo customer, product and license")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	accountID, err := ensureAccount(ctx, repo, *email, *accountName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	generated, err := auth.GenerateToken(*environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate credential:", err)
		os.Exit(1)
	}

	cred := &model.Credential{
		ID:        uuid.NewString(),
		OwnerID:   accountID,
		Key:       generated.Token,
		KeyPrefix: generated.Prefix,
		Name:      *name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := repo.CreateCredential(ctx, cred); err != nil {
		fmt.Fprintln(os.Stderr, "create credential:", err)
		os.Exit(1)
	}

	out := output{
		AccountID:    accountID,
		Email:        *email,
		CredentialID: cred.ID,
		Key:          generated.Token,
		KeyPrefix:    generated.Prefix,
	}

	if *seedDemo {
		licenseKey, err := seedDemoLicense(ctx, repo)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		out.LicenseKey = licenseKey
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
		if out.LicenseKey != "" {
			fmt.Println(out.LicenseKey)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func ensureAccount(ctx context.Context, repo *repository.Repository, email, name string) (string, error) {
	existing, err := repo.GetAccountByEmail(ctx, email)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return "", fmt.Errorf("look up account: %w", err)
	}

	acct := &model.Account{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateAccount(ctx, acct); err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return acct.ID, nil
}

func seedDemoLicense(ctx context.Context, repo *repository.Repository) (string, error) {
	customerID := uuid.NewString()
	if err := repo.CreateCustomer(ctx, customerID, "Demo Customer", "demo@keygate.local"); err != nil {
		return "", fmt.Errorf("create demo customer: %w", err)
	}

	productID := uuid.NewString()
	if err := repo.CreateProduct(ctx, productID, "Demo Product", "1.0.0"); err != nil {
		return "", fmt.Errorf("create demo product: %w", err)
	}

	licenseKey, err := model.GenerateLicenseKey()
	if err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}

	now := time.Now().UTC()
	expireAt := now.AddDate(1, 0, 0)
	lic := &model.License{
		ID:         uuid.NewString(),
		LicenseKey: licenseKey,
		CustomerID: customerID,
		ProductID:  productID,
		Status:     model.LicenseStatusActive,
		ExpireAt:   &expireAt,
		MaxDevices: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.CreateLicense(ctx, lic); err != nil {
		return "", fmt.Errorf("create demo license: %w", err)
	}

	return licenseKey, nil
}
