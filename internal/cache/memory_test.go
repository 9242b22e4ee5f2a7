package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_GetSet(t *testing.T) {
	m := NewMemory("t")
	ctx := context.Background()

	if _, err := m.Get(ctx, "nada"); !IsNotFound(err) {
		t.Fatalf("Get de clave inexistente: %v", err)
	}
	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := m.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("Get: %q, %v", v, err)
	}
}

// GetDel es consumo único: exactamente un caller obtiene el valor.
func TestMemory_GetDelSingleUse(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()
	_ = m.Set(ctx, "state", "payload", time.Minute)

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := m.GetDel(ctx, "state"); err == nil {
				wins <- v
			}
		}()
	}
	wg.Wait()
	close(wins)

	got := 0
	for v := range wins {
		if v != "payload" {
			t.Fatalf("valor inesperado: %q", v)
		}
		got++
	}
	if got != 1 {
		t.Fatalf("GetDel entregó el valor %d veces", got)
	}
	if _, err := m.GetDel(ctx, "state"); !IsNotFound(err) {
		t.Fatalf("segundo GetDel: %v", err)
	}
}

func TestMemory_SetNX(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("primer SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = m.SetNX(ctx, "lock", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("segundo SetNX debería fallar: ok=%v err=%v", ok, err)
	}
	v, _ := m.Get(ctx, "lock")
	if v != "a" {
		t.Fatalf("SetNX pisó el valor: %q", v)
	}
}

func TestMemory_IncrCountsWithinWindow(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		n, err := m.Incr(ctx, "ctr", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Fatalf("Incr = %d, quería %d", n, want)
		}
	}
}

func TestMemory_IncrPreservesWindow(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()

	if _, err := m.Incr(ctx, "w", 50*time.Millisecond); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	// incrementos posteriores no renuevan la ventana
	_, _ = m.Incr(ctx, "w", 50*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	n, err := m.Incr(ctx, "w", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Incr post-expiración: %v", err)
	}
	if n != 1 {
		t.Fatalf("la ventana no expiró: n=%d", n)
	}
}

func TestMemory_DeleteAndExists(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()

	_ = m.Set(ctx, "k", "v", 0)
	ok, _ := m.Exists(ctx, "k")
	if !ok {
		t.Fatalf("Exists = false tras Set")
	}
	_ = m.Delete(ctx, "k")
	ok, _ = m.Exists(ctx, "k")
	if ok {
		t.Fatalf("Exists = true tras Delete")
	}
}
