package domain

import (
	"fmt"
	"time"
)

// PlanStatus статус плана пользователя
type PlanStatus string

const (
	StatusInactive       PlanStatus = "inactive"
	StatusTrial          PlanStatus = "trial"
	StatusActive         PlanStatus = "active"
	StatusCanceled       PlanStatus = "canceled"
	StatusActiveUntilEnd PlanStatus = "active_until_end"
)

// GatewayRef идентификаторы сущностей во внешнем шлюзе.
type GatewayRef struct {
	SubscriptionID string `json:"gatewaySubscriptionId,omitempty"`
	CustomerID     string `json:"gatewayCustomerId,omitempty"`
}

// Present сообщает, известен ли хотя бы один идентификатор шлюза.
func (r GatewayRef) Present() bool {
	return r.SubscriptionID != "" || r.CustomerID != ""
}

// Period границы оплаченного периода. Нулевое время означает отсутствие даты.
type Period struct {
	Start time.Time `json:"startDate,omitempty"`
	End   time.Time `json:"endDate,omitempty"`
}

// PlanState состояние плана: закрытое множество вариантов, по одному на статус.
// Отсутствующий план представлен nil.
type PlanState interface {
	Status() PlanStatus
	PlanType() PlanType
	Period() Period
	GatewayRef() GatewayRef
	isPlanState()
}

// Inactive план не оформлен или сброшен.
type Inactive struct {
	Plan PlanType
}

// Trial провизорная запись: checkout создан, оплата еще не подтверждена.
type Trial struct {
	Plan  PlanType
	Dates Period
	Ref   GatewayRef
}

// Active план, подтвержденный шлюзом. Создается только через NewActive.
type Active struct {
	plan  PlanType
	dates Period
	ref   GatewayRef
}

// ManualActive статус active без идентификаторов шлюза: старые записи
// и ручные исправления администратором.
type ManualActive struct {
	Plan  PlanType
	Dates Period
}

// Canceled отмена в окне возврата.
type Canceled struct {
	Plan       PlanType
	Dates      Period
	Ref        GatewayRef
	CanceledAt time.Time
	Refunded   bool
}

// ActiveUntilEnd отмена вне окна возврата: доступ до конца периода, без продления.
type ActiveUntilEnd struct {
	Plan       PlanType
	Dates      Period
	Ref        GatewayRef
	CanceledAt time.Time
}

// NewActive создает подтвержденный план. Требует хотя бы один идентификатор шлюза.
func NewActive(plan PlanType, dates Period, ref GatewayRef) (Active, error) {
	if !ref.Present() {
		return Active{}, fmt.Errorf("%w: active plan requires a gateway identifier", ErrInvalidPlanState)
	}
	return Active{plan: plan, dates: dates, ref: ref}, nil
}

func (s Inactive) Status() PlanStatus { return StatusInactive }
func (s Inactive) PlanType() PlanType { return s.Plan }
func (s Inactive) Period() Period { return Period{} }
func (s Inactive) GatewayRef() GatewayRef { return GatewayRef{} }
func (Inactive) isPlanState() {}

func (s Trial) Status() PlanStatus { return StatusTrial }
func (s Trial) PlanType() PlanType { return s.Plan }
func (s Trial) Period() Period { return s.Dates }
func (s Trial) GatewayRef() GatewayRef { return s.Ref }
func (Trial) isPlanState() {}

func (s Active) Status() PlanStatus { return StatusActive }
func (s Active) PlanType() PlanType { return s.plan }
func (s Active) Period() Period { return s.dates }
func (s Active) GatewayRef() GatewayRef { return s.ref }
func (Active) isPlanState() {}

func (s ManualActive) Status() PlanStatus { return StatusActive }
func (s ManualActive) PlanType() PlanType { return s.Plan }
func (s ManualActive) Period() Period { return s.Dates }
func (s ManualActive) GatewayRef() GatewayRef { return GatewayRef{} }
func (ManualActive) isPlanState() {}

func (s Canceled) Status() PlanStatus { return StatusCanceled }
func (s Canceled) PlanType() PlanType { return s.Plan }
func (s Canceled) Period() Period { return s.Dates }
func (s Canceled) GatewayRef() GatewayRef { return s.Ref }
func (Canceled) isPlanState() {}

func (s ActiveUntilEnd) Status() PlanStatus { return StatusActiveUntilEnd }
func (s ActiveUntilEnd) PlanType() PlanType { return s.Plan }
func (s ActiveUntilEnd) Period() Period { return s.Dates }
func (s ActiveUntilEnd) GatewayRef() GatewayRef { return s.Ref }
func (ActiveUntilEnd) isPlanState() {}

// PlanRecord форма хранения плана внутри документа пользователя.
// Version растет при каждом условном обновлении.
type PlanRecord struct {
	PlanType              PlanType   `bson:"planType" json:"planType"`
	Status                PlanStatus `bson:"status" json:"status"`
	StartDate             *time.Time `bson:"startDate,omitempty" json:"startDate,omitempty"`
	EndDate               *time.Time `bson:"endDate,omitempty" json:"endDate,omitempty"`
	GatewaySubscriptionID string     `bson:"gatewaySubscriptionId,omitempty" json:"gatewaySubscriptionId,omitempty"`
	GatewayCustomerID     string     `bson:"gatewayCustomerId,omitempty" json:"gatewayCustomerId,omitempty"`
	CanceledAt            *time.Time `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`
	Refunded              bool       `bson:"refunded,omitempty" json:"refunded,omitempty"`
	UpdatedAt             time.Time  `bson:"updatedAt" json:"updatedAt"`
	Version               int64      `bson:"version" json:"version"`
}

// State разбирает запись в вариант и проверяет инварианты.
func (r PlanRecord) State() (PlanState, error) {
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return nil, fmt.Errorf("%w: endDate before startDate", ErrInvalidPlanState)
	}

	dates := Period{Start: deref(r.StartDate), End: deref(r.EndDate)}
	ref := GatewayRef{SubscriptionID: r.GatewaySubscriptionID, CustomerID: r.GatewayCustomerID}

	switch r.Status {
	case "", StatusInactive:
		return Inactive{Plan: r.PlanType}, nil
	case StatusTrial:
		return Trial{Plan: r.PlanType, Dates: dates, Ref: ref}, nil
	case StatusActive:
		if !ref.Present() {
			return ManualActive{Plan: r.PlanType, Dates: dates}, nil
		}
		return NewActive(r.PlanType, dates, ref)
	case StatusCanceled:
		return Canceled{Plan: r.PlanType, Dates: dates, Ref: ref, CanceledAt: deref(r.CanceledAt), Refunded: r.Refunded}, nil
	case StatusActiveUntilEnd:
		return ActiveUntilEnd{Plan: r.PlanType, Dates: dates, Ref: ref, CanceledAt: deref(r.CanceledAt)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPlanState, r.Status)
	}
}

// RecordOf переводит вариант в форму хранения. Version не заполняется.
func RecordOf(s PlanState) PlanRecord {
	if s == nil {
		return PlanRecord{Status: StatusInactive}
	}

	dates := s.Period()
	ref := s.GatewayRef()
	rec := PlanRecord{
		PlanType:              s.PlanType(),
		Status:                s.Status(),
		StartDate:             ptr(dates.Start),
		EndDate:               ptr(dates.End),
		GatewaySubscriptionID: ref.SubscriptionID,
		GatewayCustomerID:     ref.CustomerID,
	}

	switch v := s.(type) {
	case Canceled:
		rec.CanceledAt = ptr(v.CanceledAt)
		rec.Refunded = v.Refunded
	case ActiveUntilEnd:
		rec.CanceledAt = ptr(v.CanceledAt)
	}

	return rec
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
