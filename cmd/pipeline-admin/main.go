// Command pipeline-admin is the operator bootstrap tool: it seeds the
// admin token hash, webhook token, commission rates and users directly in
// the pipeline database.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/auth"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/settings"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" Signal Pipeline Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	repo := database.NewRepository(db)
	settingsService := settings.NewService(repo)
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Set admin token")
		fmt.Println("  2. Set webhook token")
		fmt.Println("  3. Set commission rate for a plan")
		fmt.Println("  4. Set affiliate rate for a tier")
		fmt.Println("  5. Set cooldown duration")
		fmt.Println("  6. List system settings")
		fmt.Println("  7. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			setAdminToken(ctx, reader, settingsService)
		case "2":
			setSetting(ctx, reader, settingsService, settings.KeyWebhookToken, "string", "Webhook token")
		case "3":
			setPlanRate(ctx, reader, settingsService)
		case "4":
			setAffiliateRate(ctx, reader, settingsService)
		case "5":
			setCooldown(ctx, reader, settingsService)
		case "6":
			listSettings(ctx, repo)
		case "7":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func setAdminToken(ctx context.Context, reader *bufio.Reader, svc *settings.Service) {
	token := prompt(reader, "New admin token")
	if len(token) < 12 {
		fmt.Println("Token must be at least 12 characters")
		return
	}

	hash, err := auth.HashAdminToken(token)
	if err != nil {
		fmt.Printf("Failed to hash token: %v\n", err)
		return
	}
	if err := svc.Set(ctx, settings.KeyAdminTokenHash, hash, "string", "pipeline-admin"); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		return
	}
	fmt.Println("Admin token updated. Only the hash is stored.")
}

func setSetting(ctx context.Context, reader *bufio.Reader, svc *settings.Service, key, valueType, label string) {
	value := prompt(reader, label)
	if value == "" {
		fmt.Println("Value must not be empty")
		return
	}
	if err := svc.Set(ctx, key, value, valueType, "pipeline-admin"); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		return
	}
	fmt.Printf("%s updated\n", key)
}

func setPlanRate(ctx context.Context, reader *bufio.Reader, svc *settings.Service) {
	plan := prompt(reader, "Plan name (e.g. basic, pro)")
	rate := prompt(reader, "Commission rate (0..1, e.g. 0.10)")
	if !validRate(rate) {
		fmt.Println("Rate must be a number between 0 and 1")
		return
	}
	if err := svc.Set(ctx, settings.PlanCommissionKey(plan), rate, "float", "pipeline-admin"); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		return
	}
	fmt.Printf("Commission rate for plan %q set to %s\n", plan, rate)
}

func setAffiliateRate(ctx context.Context, reader *bufio.Reader, svc *settings.Service) {
	tier := prompt(reader, "Affiliate tier (e.g. standard, gold)")
	rate := prompt(reader, "Affiliate rate (0..1, e.g. 0.20)")
	if !validRate(rate) {
		fmt.Println("Rate must be a number between 0 and 1")
		return
	}
	if err := svc.Set(ctx, settings.AffiliateRateKey(tier), rate, "float", "pipeline-admin"); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		return
	}
	fmt.Printf("Affiliate rate for tier %q set to %s\n", tier, rate)
}

func setCooldown(ctx context.Context, reader *bufio.Reader, svc *settings.Service) {
	raw := prompt(reader, "Cooldown duration (e.g. 2h, 30m)")
	if _, err := time.ParseDuration(raw); err != nil {
		fmt.Printf("Invalid duration: %v\n", err)
		return
	}
	if err := svc.Set(ctx, settings.KeyCooldownDuration, raw, "duration", "pipeline-admin"); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		return
	}
	fmt.Printf("Cooldown duration set to %s\n", raw)
}

func listSettings(ctx context.Context, repo *database.Repository) {
	all, err := repo.GetAllSystemSettings(ctx)
	if err != nil {
		fmt.Printf("Failed to list settings: %v\n", err)
		return
	}
	if len(all) == 0 {
		fmt.Println("No settings configured")
		return
	}
	for _, s := range all {
		value := s.Value
		// Never echo secrets back
		if s.Key == settings.KeyAdminTokenHash || s.Key == settings.KeyWebhookToken {
			value = "<redacted>"
		}
		fmt.Printf("  %-40s %-10s %s\n", s.Key, s.ValueType, value)
	}
}

func validRate(raw string) bool {
	rate, err := strconv.ParseFloat(raw, 64)
	return err == nil && rate >= 0 && rate <= 1
}
