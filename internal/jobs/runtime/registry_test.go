package runtime

import "testing"

type stubHandler struct{ t string }

func (s stubHandler) Type() string           { return s.t }
func (s stubHandler) Run(ctx *Context) error { return nil }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubHandler{t: "slide_summary"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(stubHandler{t: "slide_summary"}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := reg.Register(stubHandler{}); err == nil {
		t.Fatalf("empty type should fail")
	}
	if _, ok := reg.Get("slide_summary"); !ok {
		t.Fatalf("Get: handler missing")
	}
	if got := reg.Types(); len(got) != 1 || got[0] != "slide_summary" {
		t.Fatalf("Types: %v", got)
	}
}

func TestRegistryRegisterOnce(t *testing.T) {
	reg := NewRegistry()
	added, err := reg.RegisterOnce(stubHandler{t: "slide_summary"})
	if err != nil || !added {
		t.Fatalf("first RegisterOnce: added=%v err=%v", added, err)
	}
	added, err = reg.RegisterOnce(stubHandler{t: "slide_summary"})
	if err != nil || added {
		t.Fatalf("second RegisterOnce should keep the existing handler: added=%v err=%v", added, err)
	}
	if _, err := reg.RegisterOnce(nil); err == nil {
		t.Fatalf("nil handler should fail")
	}
}
