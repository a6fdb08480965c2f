package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PlanType идентификатор плана
type PlanType string

const (
	PlanFree      PlanType = "free"
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanBiannual  PlanType = "biannual"
	PlanAnnual    PlanType = "annual"
	PlanTrialTest PlanType = "trial_test"
)

// BillingMethod способ оплаты на стороне шлюза
type BillingMethod string

const (
	BillingPIX        BillingMethod = "PIX"
	BillingBoleto     BillingMethod = "BOLETO"
	BillingCreditCard BillingMethod = "CREDIT_CARD"
	BillingUndefined  BillingMethod = "UNDEFINED"
)

// Valid сообщает, поддерживается ли способ оплаты.
func (m BillingMethod) Valid() bool {
	switch m {
	case BillingPIX, BillingBoleto, BillingCreditCard, BillingUndefined:
		return true
	}
	return false
}

// BillingCycle периодичность списаний
type BillingCycle string

const (
	CycleMonthly      BillingCycle = "MONTHLY"
	CycleQuarterly    BillingCycle = "QUARTERLY"
	CycleSemiannually BillingCycle = "SEMIANNUALLY"
	CycleYearly       BillingCycle = "YEARLY"
	CycleOneOff       BillingCycle = "ONE_OFF"
)

// Plan описывает конфигурацию тарифа в каталоге
type Plan struct {
	Type         PlanType        `json:"type"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Cycle        BillingCycle    `json:"cycle"`
	Duration     time.Duration   `json:"-"`
	DurationDays int             `json:"durationDays"`
	// Recurring: подписка в шлюзе. Иначе разовый платеж.
	Recurring bool     `json:"recurring"`
	Features  []string `json:"features"`
	// PremiumTier открывает эксклюзивный контент и сертификаты курсов.
	PremiumTier bool `json:"premiumTier"`
	// TrialAccessible: провизорный trial этого плана уже дает премиум-доступ.
	TrialAccessible bool `json:"trialAccessible"`
}

// Purchasable сообщает, можно ли оформить план через шлюз.
func (p Plan) Purchasable() bool {
	return p.Type != PlanFree && p.Price.IsPositive()
}

const day = 24 * time.Hour

var catalog = map[PlanType]Plan{
	PlanFree: {
		Type:        PlanFree,
		Name:        "Gratuito",
		Description: "Acesso básico com limite de relatórios",
		Price:       decimal.Zero,
		Features:    []string{"reports_limited"},
	},
	PlanMonthly: {
		Type:         PlanMonthly,
		Name:         "Mensal",
		Description:  "Relatórios ilimitados, cobrança mensal",
		Price:        decimal.RequireFromString("39.90"),
		Cycle:        CycleMonthly,
		Duration:     30 * day,
		DurationDays: 30,
		Recurring:    true,
		Features:     []string{"reports_unlimited"},
	},
	PlanQuarterly: {
		Type:         PlanQuarterly,
		Name:         "Trimestral",
		Description:  "Relatórios ilimitados, cobrança trimestral",
		Price:        decimal.RequireFromString("99.90"),
		Cycle:        CycleQuarterly,
		Duration:     90 * day,
		DurationDays: 90,
		Recurring:    true,
		Features:     []string{"reports_unlimited"},
	},
	PlanBiannual: {
		Type:         PlanBiannual,
		Name:         "Semestral",
		Description:  "Relatórios ilimitados, cursos e conteúdo exclusivo",
		Price:        decimal.RequireFromString("179.90"),
		Cycle:        CycleSemiannually,
		Duration:     180 * day,
		DurationDays: 180,
		Recurring:    true,
		Features:     []string{"reports_unlimited", "exclusive_content", "course_certificates"},
		PremiumTier:  true,
	},
	PlanAnnual: {
		Type:         PlanAnnual,
		Name:         "Anual",
		Description:  "Relatórios ilimitados, cursos e conteúdo exclusivo",
		Price:        decimal.RequireFromString("299.90"),
		Cycle:        CycleYearly,
		Duration:     365 * day,
		DurationDays: 365,
		Recurring:    true,
		Features:     []string{"reports_unlimited", "exclusive_content", "course_certificates"},
		PremiumTier:  true,
	},
	PlanTrialTest: {
		Type:            PlanTrialTest,
		Name:            "Teste",
		Description:     "Acesso completo por 1 dia",
		Price:           decimal.RequireFromString("5.00"),
		Cycle:           CycleOneOff,
		Duration:        day,
		DurationDays:    1,
		Features:        []string{"reports_unlimited", "exclusive_content", "course_certificates"},
		PremiumTier:     true,
		TrialAccessible: true,
	},
}

// LookupPlan возвращает конфигурацию плана из каталога.
func LookupPlan(t PlanType) (Plan, error) {
	p, ok := catalog[t]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, t)
	}
	return p, nil
}

// Plans возвращает каталог, отсортированный по цене.
func Plans() []Plan {
	plans := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Price.LessThan(plans[j].Price)
	})
	return plans
}

// PlanDurationFor возвращает длительность периода плана (0 для free).
func PlanDurationFor(t PlanType) time.Duration {
	return catalog[t].Duration
}

// Valid сообщает, входит ли тип в каталог.
func (t PlanType) Valid() bool {
	_, ok := catalog[t]
	return ok
}
