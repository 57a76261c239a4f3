package types

import (
	"encoding/json"
	"strings"
	"time"
)

type User struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	FirstName     string     `json:"firstName,omitempty" yaml:"first_name,omitempty"`
	LastName      string     `json:"lastName,omitempty" yaml:"last_name,omitempty"`
	Email         string     `json:"email,omitempty" yaml:"email,omitempty"`
	Role          string     `json:"role" yaml:"role"`
	Status        string     `json:"status" yaml:"status"`
	Department    string     `json:"department,omitempty" yaml:"department,omitempty"`
	SessionActive bool       `json:"sessionActive,omitempty" yaml:"session_active,omitempty"`
	LastLogin     *time.Time `json:"lastLogin,omitempty" yaml:"last_login,omitempty"`
}

// UnmarshalJSON accepts the auth server's "_id" key when "id" is absent.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User(raw.plain)
	if u.ID == "" {
		u.ID = raw.MongoID
	}
	return nil
}

// DisplayName prefers the full name and falls back to first and last name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Session is the authenticated state held on behalf of one user. A zero
// ExpiresAt means the token never expires.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s Session) Active(now time.Time) bool {
	return s.Token != "" && s.User != nil && !s.Expired(now)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// AuthResult is what the auth collaborator hands back on login and refresh.
// ExpiresIn is in seconds; refresh responses carry no user.
type AuthResult struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	User      *User  `json:"user,omitempty"`
}

type RecordKind string

const (
	KindEmployee RecordKind = "employee"
	KindProject  RecordKind = "project"
)

type Status string

const (
	StatusActive           Status = "Active"
	StatusInactive         Status = "Inactive"
	StatusOnLeave          Status = "On Leave"
	StatusTerminated       Status = "Terminated"
	StatusOnBench          Status = "On Bench"
	StatusProjectCompleted Status = "Project Completed"
)

var Statuses = []Status{
	StatusActive,
	StatusInactive,
	StatusOnLeave,
	StatusTerminated,
	StatusOnBench,
	StatusProjectCompleted,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type Currency string

const (
	USD Currency = "USD"
	INR Currency = "INR"
)

type EmployeeFields struct {
	Position   string  `json:"position" yaml:"position"`
	Department string  `json:"department" yaml:"department"`
	Salary     float64 `json:"salary" yaml:"salary" validate:"gte=0"`
}

type ProjectFields struct {
	Rate              float64 `json:"rate" yaml:"rate" validate:"gte=0,lte=150"`
	Margin            float64 `json:"margin" yaml:"margin" validate:"gte=0,lte=25"`
	WorkAuthorization string  `json:"workAuthorization" yaml:"work_authorization"`
	EndClient         string  `json:"endClient" yaml:"end_client"`
	AccountManager    string  `json:"accountManager" yaml:"account_manager"`
	Recruiter         string  `json:"recruiter" yaml:"recruiter"`
	Completed         bool    `json:"projectCompleted" yaml:"completed"`
}

// Record is one entry of the local collection. Kind selects which of the
// Employee or Project blocks carries the variant fields.
type Record struct {
	ID       int64           `json:"id" yaml:"id"`
	Kind     RecordKind      `json:"kind" yaml:"kind" validate:"required,oneof=employee project"`
	Name     string          `json:"name" yaml:"name" validate:"required"`
	Email    string          `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	Phone    string          `json:"phone,omitempty" yaml:"phone,omitempty"`
	Status   Status          `json:"status" yaml:"status" validate:"record_status"`
	Joined   string          `json:"joined,omitempty" yaml:"joined,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Currency Currency        `json:"currency" yaml:"currency" validate:"oneof=USD INR"`
	Employee *EmployeeFields `json:"employee,omitempty" yaml:"employee,omitempty"`
	Project  *ProjectFields  `json:"project,omitempty" yaml:"project,omitempty"`
}

func (r Record) Amount() float64 {
	switch {
	case r.Employee != nil:
		return r.Employee.Salary
	case r.Project != nil:
		return r.Project.Rate
	}
	return 0
}

func (r Record) Position() string {
	if r.Employee != nil {
		return r.Employee.Position
	}
	return ""
}

func (r Record) Department() string {
	if r.Employee != nil {
		return r.Employee.Department
	}
	return ""
}

// SearchText is the lower-cased haystack matched by substring search.
func (r Record) SearchText() string {
	fields := []string{r.Name, r.Email, r.Phone, string(r.Status)}
	if r.Employee != nil {
		fields = append(fields, r.Employee.Position, r.Employee.Department)
	}
	if r.Project != nil {
		fields = append(fields,
			r.Project.WorkAuthorization,
			r.Project.EndClient,
			r.Project.AccountManager,
			r.Project.Recruiter,
		)
	}
	return strings.ToLower(strings.Join(fields, " "))
}

func (r Record) EmailKey() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}

type ListParams struct {
	Kind       RecordKind `url:"-" form:"-"`
	Page       int        `url:"page,omitempty" form:"page"`
	Limit      int        `url:"limit,omitempty" form:"limit"`
	Department string     `url:"department,omitempty" form:"department"`
	Status     string     `url:"status,omitempty" form:"status"`
	Search     string     `url:"search,omitempty" form:"search"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByDepartment map[string]int `json:"byDepartment,omitempty"`
}
