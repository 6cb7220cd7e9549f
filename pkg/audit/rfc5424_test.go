package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessageFull(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 9, 26, 53, 589*int(time.Millisecond), time.UTC)
	got := FormatMessage(Message{
		Facility:  FacLocal0,
		Severity:  SeverityWarning,
		Timestamp: ts,
		Hostname:  "endpoint-17",
		AppName:   "wardend",
		MessageID: string(EventAccessDenied),
		SD: []SDElement{{
			ID: "warden",
			Params: []SDParam{
				{Name: "policy", Value: "usr-bin"},
				{Name: "target", Value: "/usr/bin/tool"},
			},
		}},
		Text: "access denied",
	})

	want := `<132>1 2026-03-14T09:26:53.589Z endpoint-17 wardend - access.denied ` +
		`[warden policy="usr-bin" target="/usr/bin/tool"] access denied`
	assert.Equal(t, want, string(got))
}

func TestFormatMessageEmptyFields(t *testing.T) {
	t.Parallel()

	got := FormatMessage(Message{
		Facility: FacLocal0,
		Severity: SeverityInfo,
	})
	assert.Equal(t, "<134>1 - - - - - -", string(got))
}

func TestSDParamValueEscaping(t *testing.T) {
	t.Parallel()

	got := FormatMessage(Message{
		Facility: FacLocal0,
		Severity: SeverityNotice,
		SD: []SDElement{{
			ID:     "warden",
			Params: []SDParam{{Name: "target", Value: `/tmp/we"ird\pa]th`}},
		}},
	})
	assert.Contains(t, string(got), `target="/tmp/we\"ird\\pa\]th"`)
}

func TestAppNameTruncated(t *testing.T) {
	t.Parallel()

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'a'
	}
	got := FormatMessage(Message{
		Facility: FacLocal0,
		Severity: SeverityInfo,
		AppName:  string(long),
	})
	assert.Contains(t, string(got), " "+string(long[:48])+" ")
	assert.NotContains(t, string(got), string(long))
}

func TestSeverityForEventTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SeverityWarning, SeverityFor(EventAccessDenied))
	assert.Equal(t, SeverityNotice, SeverityFor(EventAccessAudit))
	assert.Equal(t, SeverityNotice, SeverityFor(EventConfigReload))
	assert.Equal(t, SeverityError, SeverityFor(EventConfigError))
	assert.Equal(t, SeverityWarning, SeverityFor(EventType("something.else")))
}
