package services

import (
	"context"
	"testing"
	"time"

	"github.com/customwear/api/internal/repositories/memory"
)

func TestOrderNumberGenerator_SeventhOrderOfTheDay(t *testing.T) {
	reg := memory.NewRegistry()
	reg.SeedCounter("orders-240615", 6)

	gen, err := NewOrderNumberGenerator(OrderNumberGeneratorDeps{
		Counters: reg.Counters(),
		Prefix:   "cw",
		Clock:    func() time.Time { return time.Date(2024, 6, 15, 23, 10, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewOrderNumberGenerator error: %v", err)
	}

	number, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if number != "CW2406150007" {
		t.Fatalf("expected CW2406150007, got %s", number)
	}
}

func TestOrderNumberGenerator_DayFollowsLocation(t *testing.T) {
	reg := memory.NewRegistry()
	tokyo := time.FixedZone("JST", 9*60*60)

	gen, err := NewOrderNumberGenerator(OrderNumberGeneratorDeps{
		Counters: reg.Counters(),
		Prefix:   "CW",
		Location: tokyo,
		Clock:    func() time.Time { return time.Date(2024, 6, 15, 23, 10, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewOrderNumberGenerator error: %v", err)
	}

	first, _ := gen.Next(context.Background())
	second, _ := gen.Next(context.Background())
	if first != "CW2406160001" || second != "CW2406160002" {
		t.Fatalf("unexpected numbers %s %s", first, second)
	}
}

func TestNewOrderNumberGenerator_RequiresPrefix(t *testing.T) {
	if _, err := NewOrderNumberGenerator(OrderNumberGeneratorDeps{Counters: memory.NewRegistry().Counters()}); err == nil {
		t.Fatalf("expected error without prefix")
	}
}
