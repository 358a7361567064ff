package oplog

import (
	"context"
	"fmt"
)

// VerifyReport is the outcome of checking one oplog end to end.
type VerifyReport struct {
	Worker   WorkerID     `json:"worker"`
	Length   Index        `json:"length"`
	Kinds    map[Kind]int `json:"kinds"`
	External int          `json:"external_payloads"`
	Regions  []Jump       `json:"deleted_regions"`
	Problems []string     `json:"problems"`
}

// OK reports whether no problem was found.
func (r VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *VerifyReport) problem(idx Index, format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf("[%d] ", idx)+fmt.Sprintf(format, args...))
}

// Verify decodes every entry of o, fetches external payloads and checks their
// hashes, checks that end markers close a begin marker of the same kind and
// validates the deleted regions. Storage failures are returned as errors;
// everything else is collected in the report.
func Verify(ctx context.Context, o *Oplog) (VerifyReport, error) {
	length, err := o.storage.Length(ctx, o.worker)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify %s: %w", o.worker, err)
	}
	report := VerifyReport{
		Worker:   o.worker,
		Length:   length,
		Kinds:    map[Kind]int{},
		Regions:  []Jump{},
		Problems: []string{},
	}
	if length == None {
		return report, nil
	}
	records, err := o.storage.ReadRange(ctx, o.worker, Initial, length)
	if err != nil {
		return report, fmt.Errorf("verify %s: %w", o.worker, err)
	}

	regions := NewDeletedRegions()
	kindAt := make(map[Index]Kind, len(records))
	expected := Initial
	for _, rec := range records {
		if rec.Index != expected {
			report.problem(rec.Index, "expected index %d", expected)
		}
		expected = rec.Index.Next()

		e, err := Decode(rec.Data)
		if err != nil {
			report.problem(rec.Index, "decode: %v", err)
			continue
		}
		if e.Kind() != rec.Kind {
			report.problem(rec.Index, "stored as %s but decodes as %s", rec.Kind, e.Kind())
		}
		if rec.Index == Initial && e.Kind() != KindCreate {
			report.problem(rec.Index, "first entry is %s, not %s", e.Kind(), KindCreate)
		}
		kindAt[rec.Index] = e.Kind()
		report.Kinds[e.Kind()]++

		for _, p := range entryPayloads(e) {
			if p.Kind() != PayloadExternal {
				continue
			}
			report.External++
			if _, err := RawValue(ctx, p, o.blobs); err != nil {
				report.problem(rec.Index, "payload: %v", err)
			}
		}

		switch e := e.(type) {
		case JumpEntry:
			regions.AddJump(e.Jump)
		case Revert:
			regions.AddJump(e.DroppedRegion)
		case EndAtomicRegion:
			checkBegin(&report, kindAt, rec.Index, e.BeginIndex, KindBeginAtomicRegion)
		case EndRemoteWrite:
			checkBegin(&report, kindAt, rec.Index, e.BeginIndex, KindBeginRemoteWrite)
		}
	}

	if err := regions.Validate(); err != nil {
		report.problem(length, "%v", err)
	}
	report.Regions = regions.Jumps()
	return report, nil
}

func checkBegin(r *VerifyReport, kindAt map[Index]Kind, at, begin Index, want Kind) {
	if begin >= at || kindAt[begin] != want {
		r.problem(at, "end marker points at %d, which is not a %s entry", begin, want)
	}
}

func entryPayloads(e Entry) []Payload {
	switch e := e.(type) {
	case HostCall:
		return []Payload{e.Request, e.Response}
	case ExportedFunctionInvoked:
		return []Payload{e.Request}
	case ExportedFunctionCompleted:
		return []Payload{e.Response}
	}
	return nil
}
