package flac_test

import (
	"testing"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/flac"
	"github.com/mycophonic/pinna/provider"
)

func TestLoadRejectsGarbageInput(t *testing.T) {
	t.Parallel()

	mem := provider.NewMemoryProvider(provider.MemoryProviderName)
	if _, err := mem.Write([]byte("this is not a flac stream at all")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loadDone := make(chan bool, 1)
	mem.Load(func(err error) { t.Fatalf("provider Load: %v", err) }, func(ok bool) { loadDone <- ok })

	if !<-loadDone {
		t.Fatal("provider Load did not succeed")
	}

	dec := flac.New(mem)

	var gotErr bool

	done := make(chan bool, 1)
	dec.Load(func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
		gotErr = true

		if domain != pinna.DomainCouldNotDecodeHeader {
			t.Errorf("error domain = %v, want DomainCouldNotDecodeHeader", domain)
		}
	}, func(ok bool) { done <- ok })

	if ok := <-done; ok {
		t.Fatal("Load succeeded for non-FLAC input")
	}

	if !gotErr {
		t.Fatal("onError was not called")
	}
}

func TestNameAndPath(t *testing.T) {
	t.Parallel()

	mem := provider.NewMemoryProvider(provider.MemoryProviderName)
	dec := flac.New(mem)

	if dec.Name() != "flac" {
		t.Errorf("Name() = %q, want %q", dec.Name(), "flac")
	}

	if dec.Path() != provider.MemoryProviderName {
		t.Errorf("Path() = %q, want %q", dec.Path(), provider.MemoryProviderName)
	}
}
