package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("head %d connected", 40001)
	if got != "head 40001 connected" {
		t.Errorf("captured %q", got)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)
	Logf("should go nowhere")
	if called {
		t.Error("nil logger still forwarded to the previous sink")
	}
}

func TestDefaultLoggerUsable(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf is nil by default")
	}
}
