// Command creditctl drives the installment API from a terminal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Dan9191/installment-service/internal/client"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const usage = `usage: creditctl <command> [flags]

commands:
  login    -email -password            print a bearer token
  pay      -customer -amount [-method] [-key] [-notes]
  debtors  [-bucket due-today|due-soon|overdue-1-day|overdue-3-days|all]
  calc     -price [-percent|-markup] [-initial] -months [-start]

environment:
  CREDIT_API_URL    server address (default http://localhost:8080)
  CREDIT_API_TOKEN  bearer token for all commands except login
`

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(envOr("CREDIT_API_URL", "http://localhost:8080"),
		client.WithToken(os.Getenv("CREDIT_API_TOKEN")),
		client.WithRetry(client.DefaultAttempts, client.DefaultRetryDelay),
		client.WithLogger(logger),
	)

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "login":
		err = runLogin(ctx, c, args)
	case "pay":
		err = runPay(ctx, c, args)
	case "debtors":
		err = runDebtors(ctx, c, args)
	case "calc":
		err = runCalc(ctx, c, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s failed: %v", os.Args[1], err)
		os.Exit(1)
	}
}

func runLogin(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "operator e-mail")
	password := fs.String("password", os.Getenv("CREDIT_API_PASSWORD"), "operator password")
	fs.Parse(args)

	token, err := c.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runPay(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("pay", flag.ExitOnError)
	customer := fs.Int64("customer", 0, "customer id")
	amount := fs.String("amount", "", "payment amount")
	method := fs.String("method", "cash", "cash or card")
	key := fs.String("key", "", "idempotency key (generated when empty)")
	notes := fs.String("notes", "", "free-form notes")
	fs.Parse(args)

	if *customer <= 0 {
		return fmt.Errorf("-customer is required")
	}
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount %q: %w", *amount, err)
	}

	res, err := c.ApplyPayment(ctx, *customer, models.PaymentRequest{
		Amount:         amt,
		Method:         *method,
		Notes:          *notes,
		IdempotencyKey: *key,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runDebtors(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("debtors", flag.ExitOnError)
	bucket := fs.String("bucket", "all", "follow-up bucket")
	fs.Parse(args)

	entries, err := c.Debtors(ctx, *bucket)
	if err != nil {
		return err
	}
	for _, e := range entries {
		due := "-"
		if e.CreditInfo.NextPaymentDate != nil {
			due = e.CreditInfo.NextPaymentDate.Format("2006-01-02")
		}
		fmt.Printf("%6d  %-30s  %-15s  %-14s  due %s  %s\n",
			e.ID, e.FullName, e.Phone, e.Bucket, due, e.Product.MonthlyPayment.StringFixed(2))
	}
	fmt.Printf("%d customer(s)\n", len(entries))
	return nil
}

func runCalc(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("calc", flag.ExitOnError)
	price := fs.String("price", "", "original price")
	percent := fs.String("percent", "", "profit percentage")
	markup := fs.String("markup", "", "fixed markup amount")
	initial := fs.String("initial", "0", "initial payment")
	months := fs.Int("months", 12, "installment months")
	start := fs.String("start", time.Now().Format("2006-01-02"), "start date YYYY-MM-DD")
	fs.Parse(args)

	req := models.CalculatorRequest{InstallmentMonths: *months, StartDate: *start}
	var err error
	if req.OriginalPrice, err = decimal.NewFromString(*price); err != nil {
		return fmt.Errorf("invalid -price %q: %w", *price, err)
	}
	if req.InitialPayment, err = decimal.NewFromString(*initial); err != nil {
		return fmt.Errorf("invalid -initial %q: %w", *initial, err)
	}
	if req.ProfitPercentage, err = optionalDecimal(*percent); err != nil {
		return fmt.Errorf("invalid -percent: %w", err)
	}
	if req.MarkupAmount, err = optionalDecimal(*markup); err != nil {
		return fmt.Errorf("invalid -markup: %w", err)
	}

	res, err := c.Calculate(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
