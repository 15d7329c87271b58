package task

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_Register_Validation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(TypeSpec{Name: "a/b"}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Register(a/b) err=%v, want ErrInvalidName", err)
	}
	if err := r.Register(TypeSpec{Name: " "}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Register(blank) err=%v, want ErrInvalidName", err)
	}
	if err := r.Register(TypeSpec{Name: "bare", Policy: Policy{Blocking: BlockCategory}}); err != nil {
		t.Fatalf("Register(category blocking, no category) err=%v", err)
	}
	if err := r.Register(TypeSpec{Name: "imp", Policy: Policy{Blocking: Blocking(9)}}); err == nil {
		t.Fatalf("invalid blocking accepted")
	}
	if err := r.Register(TypeSpec{Name: "  imp  ", Policy: CategoryBlocking("db")}); err != nil {
		t.Fatalf("Register err=%v", err)
	}
	if err := r.Register(TypeSpec{Name: "imp"}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate err=%v, want ErrDuplicateName", err)
	}
	if got := r.Policy(" imp "); got != CategoryBlocking("db") {
		t.Fatalf("Policy=%v", got)
	}
	if got := r.Policy("missing"); got != (Policy{}) {
		t.Fatalf("Policy(missing)=%v, want zero", got)
	}
}

func TestRegistry_ZeroValueUsable(t *testing.T) {
	t.Parallel()

	var r Registry
	r.MustRegister(TypeSpec{Name: "b"})
	r.MustRegister(TypeSpec{Name: "a"})
	if err := r.RegisterStarter("toolbar", "a", "b"); err != nil {
		t.Fatalf("RegisterStarter err=%v", err)
	}
	types := r.Types()
	if len(types) != 2 || types[0].Name != "a" || types[1].Name != "b" {
		t.Fatalf("Types=%v, want sorted a,b", types)
	}
}

func TestRegistry_MustRegister_PanicsOnError(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRegistry().MustRegister(TypeSpec{Name: "bad name"})
}

func TestRegistry_Starters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.RegisterStarter("menu", "a", "bad name"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err=%v, want ErrInvalidName", err)
	}
	if err := r.RegisterStarter("menu", "a", " b "); err != nil {
		t.Fatalf("err=%v", err)
	}
	got, ok := r.Starter("menu")
	if !ok || len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Starter=(%v,%v)", got, ok)
	}
	got[0] = "mutated"
	again, _ := r.Starter("menu")
	if again[0] != "a" {
		t.Fatalf("Starter returned shared slice")
	}
	if _, ok := r.Starter("other"); ok {
		t.Fatalf("unknown starter found")
	}
}

func TestRegistry_NewTask(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.MustRegister(TypeSpec{Name: "nowork"})
	r.MustRegister(TypeSpec{
		Name:        "copy",
		Description: "copies files",
		Work:        func(context.Context, *Task) error { return nil },
	})

	if _, err := r.NewTask("missing"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v, want ErrUnknownType", err)
	}
	if _, err := r.NewTask("nowork"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v, want ErrUnknownType", err)
	}
	tk, err := r.NewTask("copy", WithTotal(3))
	if err != nil {
		t.Fatalf("NewTask err=%v", err)
	}
	if tk.Type() != "copy" || tk.Description() != "copies files" || tk.Total() != 3 {
		t.Fatalf("task=%+v", tk.Info())
	}
	tk, _ = r.NewTask("copy", WithDescription("override"))
	if tk.Description() != "override" {
		t.Fatalf("Description=%q, want override", tk.Description())
	}
}
