// Package subscription вычисляет доступ и переходы плана пользователя.
// Функции чистые: время передается явно.
package subscription

import (
	"math"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

const (
	// RefundWindowDays законное окно отказа (право на возврат), включительно.
	RefundWindowDays = 7
	// RenewalWindowDays за сколько дней до конца периода показывать продление.
	RenewalWindowDays = 7

	day = 24 * time.Hour
)

// IsActive сообщает, действует ли план.
// Подтвержденный шлюзом active действует независимо от endDate.
// Иначе нужен статус active или trial и endDate в будущем.
// active_until_end не действует: отмена вне окна возврата снимает доступ
// сразу, а endDate остается только для показа через AccessEndsAt.
func IsActive(state domain.PlanState, now time.Time) bool {
	if state == nil {
		return false
	}

	if state.Status() == domain.StatusActive && state.GatewayRef().Present() {
		return true
	}

	switch state.Status() {
	case domain.StatusActive, domain.StatusTrial:
		end := state.Period().End
		return !end.IsZero() && end.After(now)
	default:
		return false
	}
}

// HasPremiumAccess открывает эксклюзивный контент и сертификаты.
// Администратор имеет доступ всегда. Провизорный trial дает доступ
// только планам, у которых trial доступен по каталогу.
func HasPremiumAccess(user *domain.User, state domain.PlanState, now time.Time) bool {
	if user.IsAdmin() {
		return true
	}

	if !IsActive(state, now) {
		return false
	}

	plan, err := domain.LookupPlan(state.PlanType())
	if err != nil || !plan.PremiumTier {
		return false
	}

	if _, provisional := state.(domain.Trial); provisional && !plan.TrialAccessible {
		return false
	}

	return true
}

// DaysUntilExpiration количество дней до endDate с округлением вверх.
// Без endDate возвращает 0.
func DaysUntilExpiration(state domain.PlanState, now time.Time) int {
	if state == nil {
		return 0
	}
	end := state.Period().End
	if end.IsZero() {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

// RenewalDue: до конца периода осталось от 1 до 7 дней.
func RenewalDue(state domain.PlanState, now time.Time) bool {
	days := DaysUntilExpiration(state, now)
	return days > 0 && days <= RenewalWindowDays
}

// AccessEndsAt дата окончания оплаченного периода для плана, отмененного
// вне окна возврата. Доступ по ней не выдается, см. IsActive.
func AccessEndsAt(state domain.PlanState) (time.Time, bool) {
	s, ok := state.(domain.ActiveUntilEnd)
	if !ok || s.Dates.End.IsZero() {
		return time.Time{}, false
	}
	return s.Dates.End, true
}

// DaysSinceStart целые дни с начала периода.
func DaysSinceStart(start, now time.Time) int {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / day)
}

// RefundEligible: отмена не позднее седьмого дня включительно.
func RefundEligible(start, now time.Time) bool {
	return DaysSinceStart(start, now) <= RefundWindowDays
}
