package domain

import "time"

// Role роль пользователя
type Role string

const (
	RoleMember Role = "membro"
	RoleAdmin  Role = "admin"
)

// User документ пользователя с вложенным планом.
// У пользователя ровно один план: смена плана перезаписывает поля.
type User struct {
	ID        string      `bson:"_id" json:"id"`
	Email     string      `bson:"email" json:"email"`
	Name      string      `bson:"name" json:"name"`
	TaxID     string      `bson:"taxId,omitempty" json:"taxId,omitempty"`
	Role      Role        `bson:"role" json:"role"`
	Plan      *PlanRecord `bson:"plan,omitempty" json:"plan,omitempty"`
	CreatedAt time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// PlanState возвращает вариант состояния или nil, если план отсутствует.
func (u *User) PlanState() (PlanState, error) {
	if u == nil || u.Plan == nil {
		return nil, nil
	}
	return u.Plan.State()
}

// PlanVersion версия плана для условного обновления (0, если плана нет).
func (u *User) PlanVersion() int64 {
	if u == nil || u.Plan == nil {
		return 0
	}
	return u.Plan.Version
}

// IsAdmin сообщает, является ли пользователь администратором.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
