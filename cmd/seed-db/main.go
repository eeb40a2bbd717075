package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/martpoint/promo-engine/internal/domain/auth"
	"github.com/martpoint/promo-engine/internal/domain/promoindex"
	"github.com/martpoint/promo-engine/internal/domain/promotion"
	"github.com/martpoint/promo-engine/internal/domain/rule"
	"github.com/martpoint/promo-engine/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	ruleRepo := repository.NewRuleRepository(pool)
	promoRepo := repository.NewPromotionRepository(pool)
	indexSvc := promoindex.New(repository.NewIndexRepository(pool), promoRepo, lg.Named("promoindex"))
	promoSvc := promotion.NewService(promoRepo, repository.NewHistoryRepository(pool), indexSvc)

	if err := seedRules(ctx, ruleRepo); err != nil {
		return errors.Wrap(err, "seed rules")
	}
	if err := seedPromotions(ctx, promoSvc); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedRules(ctx context.Context, rules *repository.RuleRepository) error {
	now := time.Now()
	from := now.AddDate(0, -1, 0)
	to := now.AddDate(1, 0, 0)

	seeds := []rule.Rule{
		{
			ID:       "coupon-welcome10",
			Name:     "Welcome coupon: 10% off",
			Category: rule.CategoryCoupon,
			Value:    rule.Percentage{Percent: decimal.NewFromInt(10)},
			CannotCombineWithCategories: []rule.Category{
				rule.CategoryVoucher,
			},
			MaxDiscountAmount: decimal.NewFromInt(5000),
			ValidFrom:         from,
			ValidTo:           to,
			Priority:          10,
			IsActive:          true,
		},
		{
			ID:        "voucher-gift5000",
			Name:      "Gift voucher 5000",
			Category:  rule.CategoryVoucher,
			Value:     rule.VoucherAmount{Amount: decimal.NewFromInt(5000)},
			ValidFrom: from,
			ValidTo:   to,
			IsActive:  true,
		},
		{
			ID:                     "telecom-member15",
			Name:                   "Carrier membership: 15% off beverages",
			Category:               rule.CategoryTelecom,
			Value:                  rule.Percentage{Percent: decimal.NewFromInt(15)},
			ApplicableCategories:   []string{"beverages"},
			MaxDiscountPerItem:     decimal.NewFromInt(500),
			RequiredPaymentMethods: nil,
			ValidFrom:              from,
			ValidTo:                to,
			IsActive:               true,
		},
		{
			ID:                     "payment-card-instant",
			Name:                   "Instant card discount: 1000 off over 10000",
			Category:               rule.CategoryPaymentInstant,
			Value:                  rule.FixedAmount{Amount: decimal.NewFromInt(1000)},
			RequiredPaymentMethods: []string{"card"},
			MinPurchaseAmount:      decimal.NewFromInt(10000),
			ValidFrom:              from,
			ValidTo:                to,
			IsActive:               true,
		},
	}

	for i := range seeds {
		if err := rules.Create(ctx, &seeds[i]); err != nil {
			return errors.Wrapf(err, "create rule %s", seeds[i].ID)
		}
		slog.Info("created rule", slog.String("id", seeds[i].ID), slog.String("name", seeds[i].Name))
	}
	return nil
}

func seedPromotions(ctx context.Context, promos *promotion.Service) error {
	now := time.Now()
	from := now.AddDate(0, -1, 0)
	to := now.AddDate(0, 3, 0)

	seeds := []promotion.Promotion{
		{
			ID:                 "promo-cola-2plus1",
			Name:               "Cola 2+1",
			Type:               promotion.TypeTwoPlusOne,
			BuyQuantity:        2,
			GetQuantity:        1,
			ApplicableType:     promotion.ApplicableProducts,
			ApplicableProducts: []string{"8801234567890"},
			GiftSelection:      promotion.GiftSame,
			GiftConstraints:    promotion.GiftConstraints{MustBeSameProduct: true},
			ValidFrom:          from,
			ValidTo:            to,
			IsActive:           true,
		},
		{
			ID:                 "promo-snack-1plus1",
			Name:               "Snack 1+1 cross",
			Type:               promotion.TypeOnePlusOne,
			BuyQuantity:        1,
			GetQuantity:        1,
			ApplicableType:     promotion.ApplicableProducts,
			ApplicableProducts: []string{"8809876543210"},
			GiftSelection:      promotion.GiftCross,
			GiftCategories:     []string{"snacks"},
			GiftConstraints: promotion.GiftConstraints{
				MustBeCheaperThanPurchased: true,
			},
			Constraints: promotion.Constraints{
				MaxApplicationsPerCart: 3,
			},
			ValidFrom: from,
			ValidTo:   to,
			IsActive:  true,
		},
	}

	for i := range seeds {
		if err := promos.Create(ctx, &seeds[i], "seed"); err != nil {
			return errors.Wrapf(err, "create promotion %s", seeds[i].ID)
		}
		slog.Info("created promotion", slog.String("id", seeds[i].ID), slog.String("name", seeds[i].Name))
	}
	return nil
}

func seedAPIKey(ctx context.Context, apikeys *repository.APIKeyRepository, apiKey, pepper string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))

	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: hex.EncodeToString(mac.Sum(nil)),
		Name:    "Default admin key",
		Scopes:  []string{"promotions:write", "index:rebuild"},
	}
	if err := apikeys.Create(ctx, &info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("created API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}
