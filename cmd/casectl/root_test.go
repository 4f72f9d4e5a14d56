package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

func TestCommandTree(t *testing.T) {
	paths := [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"users", "add"},
		{"credits", "grant"},
		{"credits", "reconcile"},
		{"search", "reindex"},
	}
	for _, path := range paths {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			cmd, rest, err := rootCmd.Find(path)
			if err != nil {
				t.Fatalf("Find(%v) error = %v", path, err)
			}
			if len(rest) != 0 || cmd.Name() != path[len(path)-1] {
				t.Fatalf("Find(%v) = %s with leftover %v", path, cmd.CommandPath(), rest)
			}
			if cmd.RunE == nil {
				t.Fatalf("%s has no RunE", cmd.CommandPath())
			}
		})
	}
}

func TestCreditsGrantRequiresFlags(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"credits", "grant"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "required flag") {
		t.Fatalf("expected required flag error, got %v", err)
	}
}

func TestWriteDiscrepancies(t *testing.T) {
	var clean bytes.Buffer
	if err := writeDiscrepancies(&clean, nil); err != nil {
		t.Fatalf("writeDiscrepancies() error = %v", err)
	}
	if got := clean.String(); got != "all balances match the ledger\n" {
		t.Fatalf("unexpected output %q", got)
	}

	var table bytes.Buffer
	err := writeDiscrepancies(&table, []store.CreditDiscrepancy{
		{ProjectID: 10, Balance: 90, TotalPurchased: 100, TotalUsed: 5, LedgerSum: 95},
	})
	if err != nil {
		t.Fatalf("writeDiscrepancies() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", table.String())
	}
	if fields := strings.Fields(lines[1]); strings.Join(fields, " ") != "10 90 100 5 95" {
		t.Fatalf("unexpected row %q", lines[1])
	}
}
