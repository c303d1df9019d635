package chancontrol

import (
	"errors"
	"strings"
	"testing"

	"github.com/kismetwireless/capture-linux-wifi/internal/channel"
)

type stubSink struct {
	messages      []string
	configRespMsg string
}

func (s *stubSink) SendMessage(level, text string) { s.messages = append(s.messages, level+": "+text) }
func (s *stubSink) SendConfigResponse(ch string)   { s.configRespMsg = ch }

func TestHoppingToleratesTenFailures(t *testing.T) {
	calls := 0
	c := &Controller{applyOverride: func(p *channel.Parsed) error {
		calls++
		if calls <= 10 {
			return errors.New("transient")
		}
		return nil
	}}
	sink := &stubSink{}
	p := &channel.Parsed{ControlChannel: 6}

	for i := 0; i < 10; i++ {
		if err := c.Set(sink, p, 0); err == nil {
			t.Fatalf("call %d: expected tolerated error to still be returned", i+1)
		}
	}
	if c.FailureCount() != 10 {
		t.Fatalf("FailureCount = %d, want 10", c.FailureCount())
	}
	if len(sink.messages) != 10 {
		t.Fatalf("expected 10 error messages, got %d", len(sink.messages))
	}

	// 11th call succeeds and resets the counter.
	if err := c.Set(sink, p, 0); err != nil {
		t.Fatalf("11th call: unexpected error: %v", err)
	}
	if c.FailureCount() != 0 {
		t.Fatalf("FailureCount after success = %d, want 0", c.FailureCount())
	}
}

func TestHoppingEscalatesOnEleventhFailure(t *testing.T) {
	c := &Controller{applyOverride: func(p *channel.Parsed) error {
		return errors.New("persistent")
	}}
	sink := &stubSink{}
	p := &channel.Parsed{ControlChannel: 6}

	var lastErr error
	for i := 0; i < 11; i++ {
		lastErr = c.Set(sink, p, 0)
	}
	if lastErr == nil {
		t.Fatalf("expected the 11th consecutive failure to be fatal")
	}
	if c.FailureCount() != 11 {
		t.Fatalf("FailureCount = %d, want 11", c.FailureCount())
	}
	if n := len(sink.messages); n != 11 || !strings.HasPrefix(sink.messages[n-1], "fatal: ") {
		t.Fatalf("expected the 11th message to be fatal, got %v", sink.messages)
	}
}

func TestExplicitSetIsStrict(t *testing.T) {
	c := &Controller{applyOverride: func(p *channel.Parsed) error {
		return errors.New("nope")
	}}
	sink := &stubSink{}
	p := &channel.Parsed{ControlChannel: 6}

	if err := c.Set(sink, p, 42); err == nil {
		t.Fatalf("expected explicit configure to fail immediately")
	}
	if sink.configRespMsg != "" {
		t.Fatalf("did not expect a configure-response on failure")
	}
}

func TestExplicitSetSuccessSendsConfigResponse(t *testing.T) {
	testTable := channel.Table{{Chan: 36, FreqMHz: 5180, Flags: channel.FlagVHT80, Freq80: 5210}}
	p, _, err := channel.Parse(testTable, "36VHT80")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	c := &Controller{applyOverride: func(p *channel.Parsed) error { return nil }}
	sink := &stubSink{}

	if err := c.Set(sink, p, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := channel.Render(p); sink.configRespMsg != want {
		t.Fatalf("configresp = %q, want %q", sink.configRespMsg, want)
	}
}
