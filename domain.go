package main

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts go out as JSON numbers, not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

type User struct {
	Id    int    `json:"user_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

type Spending struct {
	Id         int             `json:"id"`
	UserId     int             `json:"user_id"`
	MoneySpent decimal.Decimal `json:"money_spent"`
	Year       int             `json:"year"`
}

// AgeBracket is an inclusive age range used to bucket users for reporting.
type AgeBracket struct {
	Name   string
	MinAge int
	MaxAge int
}

// Brackets are ordered and must not overlap.
var ageBrackets = []AgeBracket{
	{Name: "18-24", MinAge: 18, MaxAge: 24},
	{Name: "25-30", MinAge: 25, MaxAge: 30},
	{Name: "31-36", MinAge: 31, MaxAge: 36},
	{Name: "37-47", MinAge: 37, MaxAge: 47},
	{Name: ">47", MinAge: 48, MaxAge: 150},
}

func (b AgeBracket) Contains(age int) bool {
	return age >= b.MinAge && age <= b.MaxAge
}

// bracketFor returns the bracket an age falls into, if any.
func bracketFor(age int) (AgeBracket, bool) {
	for _, b := range ageBrackets {
		if b.Contains(age) {
			return b, true
		}
	}
	return AgeBracket{}, false
}

type BracketStats struct {
	Bracket      string          `json:"bracket"`
	MinAge       int             `json:"min_age"`
	MaxAge       int             `json:"max_age"`
	Users        int             `json:"users"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	AverageSpent decimal.Decimal `json:"average_spent"`
}

type UserTotal struct {
	UserId     int             `json:"user_id"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}

// Voucher is the document mirrored into the secondary store for users whose
// total spend crosses the voucher threshold.
type Voucher struct {
	UserId      int             `json:"user_id"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
	VoucherCode string          `json:"voucher_code"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

const (
	maxNameLength  = 20
	maxEmailLength = 120
	maxAge         = 150
	minYear        = 1900
	maxYear        = 9999
)

// Money columns are NUMERIC(14,2).
var maxMoneySpent = decimal.New(1, 12)

func validateUser(u User) error {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(u.Name) > maxNameLength {
		return errors.New("name must be at most 20 characters")
	}
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if utf8.RuneCountInString(u.Email) > maxEmailLength {
		return errors.New("email must be at most 120 characters")
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') || at == len(email)-1 {
		return errors.New("email is malformed")
	}
	if u.Age < 0 || u.Age > maxAge {
		return errors.New("age must be between 0 and 150")
	}
	return nil
}

func validateSpending(s Spending) error {
	if !s.MoneySpent.IsPositive() {
		return errors.New("money_spent must be greater than zero")
	}
	if !s.MoneySpent.Equal(s.MoneySpent.Round(2)) {
		return errors.New("money_spent must have at most 2 decimal places")
	}
	if s.MoneySpent.GreaterThanOrEqual(maxMoneySpent) {
		return errors.New("money_spent is too large")
	}
	if s.Year < minYear || s.Year > maxYear {
		return errors.New("year must be between 1900 and 9999")
	}
	return nil
}
