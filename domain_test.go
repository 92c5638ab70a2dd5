package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAgeBracketsDoNotOverlap(t *testing.T) {
	for i := 1; i < len(ageBrackets); i++ {
		prev, cur := ageBrackets[i-1], ageBrackets[i]
		if cur.MinAge <= prev.MaxAge {
			t.Fatalf("bracket %s overlaps %s", cur.Name, prev.Name)
		}
		if cur.MinAge != prev.MaxAge+1 {
			t.Fatalf("gap between %s and %s", prev.Name, cur.Name)
		}
	}
}

func TestBracketFor(t *testing.T) {
	cases := []struct {
		age  int
		want string
		ok   bool
	}{
		{17, "", false},
		{18, "18-24", true},
		{24, "18-24", true},
		{25, "25-30", true},
		{36, "31-36", true},
		{47, "37-47", true},
		{48, ">47", true},
		{150, ">47", true},
		{151, "", false},
	}

	for _, tc := range cases {
		b, ok := bracketFor(tc.age)
		if ok != tc.ok || b.Name != tc.want {
			t.Errorf("bracketFor(%d) = %q, %v; want %q, %v", tc.age, b.Name, ok, tc.want, tc.ok)
		}
	}
}

func TestValidateUser(t *testing.T) {
	valid := User{Name: "Marija", Email: "marija25@gmail.com", Age: 25}
	if err := validateUser(valid); err != nil {
		t.Fatalf("expected valid user, got %v", err)
	}
	cyrillic := User{Name: "Милица Петровска", Email: "милица@пример.мк", Age: 28}
	if err := validateUser(cyrillic); err != nil {
		t.Fatalf("expected non-ASCII name within 20 characters to be valid, got %v", err)
	}

	cases := map[string]User{
		"empty name":    {Name: " ", Email: "a@b.c", Age: 30},
		"long name":     {Name: strings.Repeat("x", 21), Email: "a@b.c", Age: 30},
		"long cyrillic": {Name: strings.Repeat("ж", 21), Email: "a@b.c", Age: 30},
		"padded name":   {Name: "     abcdefghijklmnopqrst", Email: "a@b.c", Age: 30},
		"empty email":   {Name: "Ana", Email: "", Age: 30},
		"no at":         {Name: "Ana", Email: "ana.example.com", Age: 30},
		"two ats":       {Name: "Ana", Email: "ana@x@y", Age: 30},
		"trailing at":   {Name: "Ana", Email: "ana@", Age: 30},
		"long email":    {Name: "Ana", Email: strings.Repeat("a", 118) + "@b.c", Age: 30},
		"negative age":  {Name: "Ana", Email: "a@b.c", Age: -1},
		"age above 150": {Name: "Ana", Email: "a@b.c", Age: 151},
	}
	for name, u := range cases {
		if err := validateUser(u); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidateSpending(t *testing.T) {
	if err := validateSpending(Spending{MoneySpent: decimal.RequireFromString("10.50"), Year: 2023}); err != nil {
		t.Fatalf("expected valid spending, got %v", err)
	}
	if err := validateSpending(Spending{MoneySpent: decimal.Zero, Year: 2023}); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if err := validateSpending(Spending{MoneySpent: decimal.NewFromInt(-5), Year: 2023}); err == nil {
		t.Fatal("expected error for negative amount")
	}
	if err := validateSpending(Spending{MoneySpent: decimal.NewFromInt(5), Year: 1800}); err == nil {
		t.Fatal("expected error for out of range year")
	}
	if err := validateSpending(Spending{MoneySpent: decimal.RequireFromString("0.001"), Year: 2023}); err == nil {
		t.Fatal("expected error for more than 2 decimal places")
	}
	if err := validateSpending(Spending{MoneySpent: decimal.RequireFromString("12.500"), Year: 2023}); err != nil {
		t.Fatalf("expected trailing zeros to be accepted, got %v", err)
	}
	if err := validateSpending(Spending{MoneySpent: decimal.New(1, 12), Year: 2023}); err == nil {
		t.Fatal("expected error for amount that overflows NUMERIC(14,2)")
	}
	if err := validateSpending(Spending{MoneySpent: decimal.RequireFromString("999999999999.99"), Year: 2023}); err != nil {
		t.Fatalf("expected largest storable amount to be accepted, got %v", err)
	}
}

func TestDecimalMarshalsAsNumber(t *testing.T) {
	b, err := json.Marshal(UserTotal{UserId: 1, TotalSpent: decimal.RequireFromString("1000.5")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"user_id":1,"total_spent":1000.5}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
