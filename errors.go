// Package rdds is the RTPS/DDS core: DomainParticipant construction,
// the single-threaded event loop that drives every Reader/Writer, and
// the command API the out-of-scope Publisher/Subscriber/DataReader/
// DataWriter façade would sit on top of (spec.md §1, §6).
package rdds

import "errors"

// Sentinel errors distinguishing the §7 error kinds callers need to
// branch on, mirroring the teacher's sentinel-error style (e.g.
// sipgo.ErrDialogDoesNotExists).
var (
	// ErrUnknownEntity is returned by Write and WriterHandle.Dispose
	// when the writer GUID was never registered or was already
	// removed. RemoveReader/RemoveWriter do not check the GUID and
	// return nil for an unknown one.
	ErrUnknownEntity = errors.New("rdds: unknown entity")

	// ErrPreconditionNotMet is returned when a user API is called
	// against a participant whose event loop has already stopped
	// (spec.md §7 Precondition: "dangling participant reference").
	ErrPreconditionNotMet = errors.New("rdds: precondition not met")

	// ErrConstructionTimedOut names a construction timeout.
	// NewDomainParticipant applies no start-up timeout and does not
	// return it.
	ErrConstructionTimedOut = errors.New("rdds: participant construction timed out")
)
