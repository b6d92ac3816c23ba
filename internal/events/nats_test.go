package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

func TestNotifierSubjects(t *testing.T) {
	pub := &fakePublisher{}
	n := NewWithPublisher(pub, "vatsim.edst", logger.NewNop())

	n.PublishUpdates([]*edst.Record{{Callsign: "UAL123", CID: "417"}, {Callsign: "SWA9", CID: "418"}})
	n.PublishRemovals([]string{"OLD1"})
	n.PublishPass(edst.PassSummary{ID: "pass-1", Updated: 2})

	tests := []struct {
		subject string
		check   func(t *testing.T, data []byte)
	}{
		{"vatsim.edst.upsert", func(t *testing.T, data []byte) {
			var rec edst.Record
			if err := json.Unmarshal(data, &rec); err != nil || rec.Callsign != "UAL123" || rec.CID != "417" {
				t.Errorf("upsert payload = %s", data)
			}
		}},
		{"vatsim.edst.upsert", nil},
		{"vatsim.edst.remove", func(t *testing.T, data []byte) {
			var r Removal
			if err := json.Unmarshal(data, &r); err != nil || r.Callsign != "OLD1" {
				t.Errorf("remove payload = %s", data)
			}
		}},
		{"vatsim.edst.pass", func(t *testing.T, data []byte) {
			var s edst.PassSummary
			if err := json.Unmarshal(data, &s); err != nil || s.ID != "pass-1" || s.Updated != 2 {
				t.Errorf("pass payload = %s", data)
			}
		}},
	}

	if len(pub.messages) != len(tests) {
		t.Fatalf("published %d messages, want %d", len(pub.messages), len(tests))
	}
	for i, tt := range tests {
		if pub.messages[i].subject != tt.subject {
			t.Errorf("message %d subject = %s, want %s", i, pub.messages[i].subject, tt.subject)
		}
		if tt.check != nil {
			tt.check(t, pub.messages[i].data)
		}
	}
}

func TestNotifierDefaultSubject(t *testing.T) {
	n := NewWithPublisher(&fakePublisher{}, "", logger.NewNop())
	if got := n.Subject(SuffixPass); got != "edst.pass" {
		t.Errorf("Subject() = %s, want edst.pass", got)
	}
}

func TestNotifierPublishErrorsAreNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	n := NewWithPublisher(pub, "edst", logger.NewNop())

	// must not panic or block
	n.PublishUpdates([]*edst.Record{{Callsign: "UAL123"}})
	n.PublishRemovals([]string{"OLD1"})
	n.PublishPass(edst.PassSummary{ID: "p"})
}

func TestNewInvalidURL(t *testing.T) {
	for _, url := range []string{"invalid://url:12345", "not-a-url:0"} {
		n, err := New(Options{URL: url}, logger.NewNop())
		if err == nil {
			n.Close()
			t.Errorf("New(%q) should fail", url)
		}
	}
}
