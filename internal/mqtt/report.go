package mqtt

import (
	"github.com/ibs-source/queue-resender/internal/resend"
	"github.com/ibs-source/queue-resender/pkg/jsonfast"
)

// EncodeOutcome renders out as the JSON report document
func EncodeOutcome(out resend.Outcome) []byte {
	b := jsonfast.New(512)
	b.BeginObject()
	b.AddStringField("run_id", out.RunID)
	b.AddStringField("result", string(out.Result))
	b.AddBoolField("ok", out.ExitCode() == 0)
	b.AddIntField("exit_code", out.ExitCode())
	if reason := out.Reason(); reason != "" {
		b.AddStringField("reason", reason)
	}
	b.AddStringField("source", out.Source)
	b.AddStringField("target", out.Target)
	b.AddIntField("requested", out.Requested)
	b.AddIntField("received", out.Received)
	b.AddIntField("sent", out.Sent)
	if out.Err != nil {
		b.AddStringField("error", out.Err.Error())
	}
	b.AddStringArrayField("warnings", out.Warnings)
	b.AddTimeRFC3339Field("started", out.Started)
	b.AddTimeRFC3339Field("finished", out.Finished)
	if !out.Started.IsZero() && !out.Finished.IsZero() {
		b.AddInt64Field("duration_ms", out.Finished.Sub(out.Started).Milliseconds())
	}
	b.EndObject()

	// Return a copy of the buffer to avoid aliasing issues
	result := make([]byte, len(b.Bytes()))
	copy(result, b.Bytes())
	return result
}
