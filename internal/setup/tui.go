package setup

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/mirror/config"
	"github.com/vadiminshakov/mirror/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// clientAnswers are the raw wizard inputs for one slave account.
type clientAnswers struct {
	ID            string
	AccountID     string
	Credentials   string
	ScaleMethod   string
	MarginPercent string
	FixedAmount   string
	NominalEquity string
	UsagePercent  string
}

// answers are the raw wizard inputs.
type answers struct {
	Mode        string
	Platform    string
	QuoteAsset  string
	MainAccount string
	MainCreds   string
	Clients     []clientAnswers
	Interval    string
	StartTime   string
	EndTime     string
	Timezone    string
	Precision   string
}

func defaultAnswers() answers {
	return answers{
		Mode:       string(domain.ModeDryRun),
		Platform:   config.PlatformBinance,
		QuoteAsset: "USDT",
		Interval:   "Every 5 minutes",
		StartTime:  "09:30",
		EndTime:    "16:00",
		Timezone:   "America/New_York",
		Precision:  "4",
	}
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("MIRROR CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes path.
func RunTUI(path string) error {
	a := defaultAnswers()

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("MIRROR CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Mirror one account onto many.\n"))

	fmt.Println(stepStyle.Render("STEP 1: MODE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Operating mode").
				Options(
					huh.NewOption("Dry run (plan only)", string(domain.ModeDryRun)),
					huh.NewOption("Simulation (paper ledger)", string(domain.ModeSimulation)),
					huh.NewOption("Live (real orders)", string(domain.ModeLive)),
				).
				Value(&a.Mode),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: PLATFORM")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange Platform").
				Options(
					huh.NewOption("Binance", config.PlatformBinance),
					huh.NewOption("Bybit", config.PlatformBybit),
				).
				Value(&a.Platform),
			huh.NewInput().
				Title("Quote asset").
				Description("Holdings are valued and traded against it (e.g. USDT)").
				Value(&a.QuoteAsset).
				Validate(validateNonEmpty("quote asset")),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 3: MAIN ACCOUNT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Main account id").
				Value(&a.MainAccount).
				Validate(validateNonEmpty("account id")),
			huh.NewInput().
				Title("Credentials reference").
				Description("Keys are read from <REF>_API_KEY and <REF>_API_SECRET").
				Value(&a.MainCreds),
		),
	).Run()
	if err != nil {
		return err
	}

	for n := 1; ; n++ {
		screen(fmt.Sprintf("STEP 4: CLIENT #%d", n))
		c, err := askClient()
		if err != nil {
			return err
		}
		a.Clients = append(a.Clients, c)

		more := false
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another client?").
					Value(&more),
			),
		).Run()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	screen("STEP 5: AUTO SYNC")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Interval").
				Options(
					huh.NewOption("Every 1 minute", "Every 1 minute"),
					huh.NewOption("Every 5 minutes", "Every 5 minutes"),
					huh.NewOption("Every 15 minutes", "Every 15 minutes"),
					huh.NewOption("Every 30 minutes", "Every 30 minutes"),
					huh.NewOption("Every hour", "Every hour"),
				).
				Value(&a.Interval),
			huh.NewInput().
				Title("Active from").
				Description("HH:MM, empty for always").
				Value(&a.StartTime).
				Validate(validateClock),
			huh.NewInput().
				Title("Active until").
				Description("HH:MM, empty for always").
				Value(&a.EndTime).
				Validate(validateClock),
			huh.NewInput().
				Title("Time zone").
				Value(&a.Timezone).
				Validate(validateTimezone),
			huh.NewInput().
				Title("Quantity precision").
				Description("Decimal places of order quantities (0-8)").
				Value(&a.Precision).
				Validate(validateRange(0, 8)),
		),
	).Run()
	if err != nil {
		return err
	}

	f, err := a.file()
	if err != nil {
		return err
	}

	screen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(a.summary()))

	confirm := false
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := config.Write(path, f); err != nil {
		return err
	}
	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

func askClient() (clientAnswers, error) {
	c := clientAnswers{
		ScaleMethod:   string(domain.ScaleEquityRatio),
		MarginPercent: "0",
		UsagePercent:  "100",
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Client id").
				Value(&c.ID).
				Validate(validateNonEmpty("client id")),
			huh.NewInput().
				Title("Account id").
				Value(&c.AccountID).
				Validate(validateNonEmpty("account id")),
			huh.NewInput().
				Title("Credentials reference").
				Value(&c.Credentials),
			huh.NewSelect[string]().
				Title("Scale method").
				Options(
					huh.NewOption("Equity ratio", string(domain.ScaleEquityRatio)),
					huh.NewOption("Fixed amount", string(domain.ScaleFixedAmount)),
					huh.NewOption("Dynamic ratio", string(domain.ScaleDynamicRatio)),
				).
				Value(&c.ScaleMethod),
			huh.NewInput().
				Title("Margin %").
				Description("Extra buying room on top of total value (0-100)").
				Value(&c.MarginPercent).
				Validate(validateRange(0, 100)),
		),
	).Run()
	if err != nil {
		return c, err
	}

	switch domain.ScaleMethod(c.ScaleMethod) {
	case domain.ScaleFixedAmount:
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Fixed amount").
					Description("Slice of the account equity that follows main").
					Value(&c.FixedAmount).
					Validate(validatePositive),
				huh.NewInput().
					Title("Account equity today").
					Description("Used to protect the rest of the account").
					Value(&c.NominalEquity).
					Validate(validatePositive),
			),
		).Run()
	case domain.ScaleDynamicRatio:
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Usage %").
					Value(&c.UsagePercent).
					Validate(validateRange(1, 100)),
			),
		).Run()
	}
	return c, err
}

// file converts the answers to a config file, validating it as Load would.
func (a answers) file() (config.File, error) {
	precision, err := decimal.NewFromString(a.Precision)
	if err != nil {
		return config.File{}, fmt.Errorf("invalid precision %q", a.Precision)
	}

	f := config.File{
		OperatingMode:     a.Mode,
		Platform:          a.Platform,
		QuoteAsset:        strings.ToUpper(a.QuoteAsset),
		MainAccount:       config.MainAccount{ID: a.MainAccount, Credentials: a.MainCreds},
		QuantityPrecision: int32(precision.IntPart()),
		AutoSync: config.AutoSyncFile{
			Interval:  a.Interval,
			StartTime: a.StartTime,
			EndTime:   a.EndTime,
			Timezone:  a.Timezone,
		},
	}
	for _, c := range a.Clients {
		cl := domain.ClientConfig{
			ID:             c.ID,
			AccountID:      c.AccountID,
			CredentialsRef: c.Credentials,
			Enabled:        true,
			ScaleMethod:    domain.ScaleMethod(c.ScaleMethod),
			MarginPercent:  decimalOrZero(c.MarginPercent),
			FixedAmount:    decimalOrZero(c.FixedAmount),
			NominalEquity:  decimalOrZero(c.NominalEquity),
		}
		if cl.ScaleMethod == domain.ScaleDynamicRatio {
			cl.UsagePercent = decimalOrZero(c.UsagePercent)
		}
		f.Clients = append(f.Clients, cl)
	}

	if _, err := f.Config(); err != nil {
		return config.File{}, err
	}
	return f, nil
}

func (a answers) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\nPlatform: %s (%s)\nMain: %s\n", a.Mode, a.Platform, a.QuoteAsset, a.MainAccount)
	for _, c := range a.Clients {
		fmt.Fprintf(&b, "Client %s -> %s (%s)\n", c.ID, c.AccountID, c.ScaleMethod)
	}
	hours := "always"
	if a.StartTime != "" || a.EndTime != "" {
		hours = fmt.Sprintf("%s-%s %s", a.StartTime, a.EndTime, a.Timezone)
	}
	fmt.Fprintf(&b, "Auto sync: %s, active %s\n", a.Interval, hours)
	return b.String()
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func validateNonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validateRange(lo, hi int64) func(string) error {
	return func(s string) error {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("must be a valid number")
		}
		if d.LessThan(decimal.NewFromInt(lo)) || d.GreaterThan(decimal.NewFromInt(hi)) {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateClock(s string) error {
	if s == "" {
		return nil
	}
	_, err := domain.ParseClockTime(s)
	return err
}

func validateTimezone(s string) error {
	_, err := time.LoadLocation(s)
	return err
}
