package game

import (
	"testing"

	"github.com/kit-courier/bot/internal/session"
)

func TestItemLabel(t *testing.T) {
	if got := (Item{Name: "bread"}).Label(); got != "bread" {
		t.Errorf("Label() = %q, want %q", got, "bread")
	}
	if got := (Item{Name: "bread", DisplayName: "Bread"}).Label(); got != "Bread" {
		t.Errorf("Label() = %q, want %q", got, "Bread")
	}
}

func TestFakeChatRequiresConnection(t *testing.T) {
	f := NewFake("courier")

	if err := f.Chat("hello"); err == nil {
		t.Error("Chat succeeded before Connect")
	}

	f.Connect(nil)
	if err := f.Chat("hello"); err != nil {
		t.Errorf("Chat() error: %v", err)
	}
	if sent := f.Sent(); len(sent) != 1 || sent[0] != "hello" {
		t.Errorf("Sent() = %v", sent)
	}
}

func TestFakeTossStack(t *testing.T) {
	f := NewFake("courier")
	f.SetInventory([]Item{{Name: "diamond", Count: 32}})

	if err := f.TossStack(Item{Name: "diamond"}); err != nil {
		t.Fatalf("TossStack() error: %v", err)
	}
	if len(f.Inventory()) != 0 {
		t.Error("inventory not emptied")
	}
	if err := f.TossStack(Item{Name: "diamond"}); err == nil {
		t.Error("TossStack succeeded on missing item")
	}
}

func TestFakeEmitters(t *testing.T) {
	f := NewFake("courier")

	var spawned bool
	var kicked string
	var moved session.Position
	f.SetHandlers(Handlers{
		OnSpawn: func() { spawned = true },
		OnKick:  func(reason string) { kicked = reason },
		OnMove:  func(p session.Position) { moved = p },
	})

	f.EmitSpawn()
	f.EmitKick("test over")
	f.SetPosition(session.Position{X: 1, Y: 2, Z: 3})

	if !spawned || kicked != "test over" || moved.X != 1 {
		t.Errorf("handlers: spawned=%v kicked=%q moved=%+v", spawned, kicked, moved)
	}
}
